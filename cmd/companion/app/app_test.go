package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompanionCommand_Subcommands(t *testing.T) {
	cmd := NewCompanionCommand(context.Background())

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"activate", "scan", "status", "tracking", "unpair", "run"}, names)
}

func TestTrackingCommand_RejectsUnknownArgument(t *testing.T) {
	cmd := NewCompanionCommand(context.Background())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"tracking", "maybe"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid argument")
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "*****", maskToken("short"))
	assert.Equal(t, "eyJh********9xYz", maskToken("eyJhbGciOiJIUzI1NiJ9.payload.sig9xYz"))
}

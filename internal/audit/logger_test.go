package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLog(t *testing.T) {
	buf := captureLog(t)
	ctx := context.WithValue(context.Background(), chimiddleware.RequestIDKey, "req-1")

	Log(ctx, Event{
		Type:     EventCodeRedeemed,
		FamilyID: "fam-1",
		DeviceID: "dev-1",
		Details:  map[string]interface{}{"code": "ABCD-****", "attempt": 2, "qr": true},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "security", line["audit"])
	assert.Equal(t, "pairing_code_redeemed", line["eventType"])
	assert.Equal(t, "fam-1", line["familyId"])
	assert.Equal(t, "dev-1", line["deviceId"])
	assert.Equal(t, "req-1", line["requestId"])
	assert.Equal(t, "ABCD-****", line["code"])
	assert.Equal(t, float64(2), line["attempt"])
	assert.Equal(t, true, line["qr"])
}

func TestLog_OmitsEmptyFields(t *testing.T) {
	buf := captureLog(t)

	Log(context.Background(), Event{Type: EventRateLimitExceed})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.NotContains(t, line, "familyId")
	assert.NotContains(t, line, "deviceId")
	assert.NotContains(t, line, "requestId")
}

package app

import (
	"bytes"
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/pairing"
)

type fakeBackend struct {
	pairing.LocalIssuer
	pairAfter int32
	checks    atomic.Int32
}

func (f *fakeBackend) CheckCodeStatus(ctx context.Context, code string) (*model.CodeStatusResult, error) {
	n := f.checks.Add(1)
	if f.pairAfter > 0 && n >= f.pairAfter {
		return &model.CodeStatusResult{
			Status: model.CodeStatusPaired,
			Device: &model.Device{ID: "dev-1", Name: "Tablet"},
		}, nil
	}
	return &model.CodeStatusResult{Status: model.CodeStatusPending}, nil
}

func newPairingSession(t *testing.T, backend pairing.Backend, connectTimeout time.Duration) (*pairing.Session, chan struct{}) {
	t.Helper()
	changed := make(chan struct{}, 1)
	s := pairing.NewSession(backend, pairing.SessionOptions{
		Window:         time.Minute,
		ConnectTimeout: connectTimeout,
		PollInterval:   10 * time.Millisecond,
		Tick:           10 * time.Millisecond,
		OnChange: func(pairing.Snapshot) {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})
	t.Cleanup(s.Close)
	return s, changed
}

func TestRunPairing_Success(t *testing.T) {
	backend := &fakeBackend{LocalIssuer: pairing.LocalIssuer{Window: time.Minute}, pairAfter: 2}
	session, changed := newPairingSession(t, backend, time.Minute)

	qrPath := filepath.Join(t.TempDir(), "code.png")
	var out bytes.Buffer
	err := runPairing(context.Background(), session, changed, &pairOptions{qrOut: qrPath, qrSize: 128}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "pairing code: ")
	assert.Contains(t, out.String(), "QR code written to "+qrPath)
	assert.Contains(t, out.String(), `paired "Tablet" (dev-1)`)
	assert.FileExists(t, qrPath)
}

func TestRunPairing_TimeoutWithoutRetries(t *testing.T) {
	backend := &fakeBackend{LocalIssuer: pairing.LocalIssuer{Window: time.Minute}}
	session, changed := newPairingSession(t, backend, 50*time.Millisecond)

	var out bytes.Buffer
	err := runPairing(context.Background(), session, changed, &pairOptions{}, &out)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodePairingTimeout, apperrors.GetCode(err))
}

func TestRunPairing_RetryIssuesNewCode(t *testing.T) {
	backend := &fakeBackend{LocalIssuer: pairing.LocalIssuer{Window: time.Minute}, pairAfter: 8}
	session, changed := newPairingSession(t, backend, 50*time.Millisecond)

	var out bytes.Buffer
	err := runPairing(context.Background(), session, changed, &pairOptions{retries: 1}, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("pairing code: ")))
}

func TestRunPairing_ContextCancelled(t *testing.T) {
	backend := &fakeBackend{LocalIssuer: pairing.LocalIssuer{Window: time.Minute}}
	session, changed := newPairingSession(t, backend, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err := runPairing(ctx, session, changed, &pairOptions{}, &out)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, pairing.StateCancelled, session.State())
}

func TestFilterOptions(t *testing.T) {
	f, err := (&filterOptions{status: "paired", userID: "u-1"}).filters()
	require.NoError(t, err)
	require.NotNil(t, f.Status)
	assert.Equal(t, model.PairStatusPaired, *f.Status)
	assert.Equal(t, "u-1", f.UserID)

	_, err = (&filterOptions{status: "lost"}).filters()
	assert.Error(t, err)
}

func TestWriteDeviceTable(t *testing.T) {
	level := 42
	var out bytes.Buffer
	writeDeviceTable(&out, []model.Device{
		{ID: "dev-1", Name: "Phone", PairStatus: model.PairStatusPaired, Online: true, BatteryLevel: &level},
		{ID: "dev-2", Name: "Watch", PairStatus: model.PairStatusUnpaired},
	})

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[1]), "42%")
	assert.Contains(t, string(lines[2]), "never")
}

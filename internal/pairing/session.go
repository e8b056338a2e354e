package pairing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/model"
)

type State string

const (
	StateForm       State = "form"
	StateCode       State = "code"
	StateQR         State = "qr"
	StateConnecting State = "connecting"
	StateSuccess    State = "success"
	StateTimeout    State = "timeout"
	StateExpired    State = "expired"
	StateCancelled  State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateSuccess || s == StateCancelled
}

const (
	EventGenerate   = "generate"
	EventShowQR     = "show_qr"
	EventShowCode   = "show_code"
	EventConnect    = "connect"
	EventConfirm    = "confirm"
	EventTimeout    = "timeout"
	EventExpire     = "expire"
	EventRetry      = "retry"
	EventRegenerate = "regenerate"
	EventCancel     = "cancel"
)

const (
	DefaultWindow         = 10 * time.Minute
	DefaultConnectTimeout = 30 * time.Second
	DefaultPollInterval   = 2 * time.Second
	DefaultTick           = time.Second
)

// CodeIssuer hands out pairing codes. Uniqueness is the issuer's concern.
type CodeIssuer interface {
	CreateCode(ctx context.Context, req model.CreatePairingCodeRequest) (*model.CreatePairingCodeResult, error)
}

type StatusChecker interface {
	CheckCodeStatus(ctx context.Context, code string) (*model.CodeStatusResult, error)
}

type Backend interface {
	CodeIssuer
	StatusChecker
}

type SessionOptions struct {
	DeviceName     string
	Window         time.Duration
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	Tick           time.Duration
	Now            func() time.Time
	// OnChange is invoked outside the session lock after every transition
	// and countdown tick.
	OnChange func(Snapshot)
}

func (o *SessionOptions) setDefaults() {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Snapshot struct {
	State     State
	Code      string
	QRPayload string
	CreatedAt time.Time
	ExpiresAt time.Time
	Remaining time.Duration
	Device    *model.Device
	Err       *apperrors.AppError
}

// Session drives the operator side of pairing:
// form -> code <-> qr -> connecting -> success | timeout | expired.
// Expiry is absolute and is driven by the countdown alone; a connection
// timeout is a separate failure that does not touch the countdown.
type Session struct {
	backend Backend
	opts    SessionOptions

	mu        sync.Mutex
	fsm       *fsm.FSM
	code      string
	qrPayload string
	createdAt time.Time
	expiresAt time.Time
	remaining time.Duration
	device    *model.Device
	err       *apperrors.AppError

	stopCountdown context.CancelFunc
	stopConnect   context.CancelFunc
	wg            sync.WaitGroup
}

func NewSession(backend Backend, opts SessionOptions) *Session {
	opts.setDefaults()
	s := &Session{
		backend: backend,
		opts:    opts,
	}

	live := []string{string(StateCode), string(StateQR), string(StateConnecting)}
	events := fsm.Events{
		{Name: EventGenerate, Src: []string{string(StateForm)}, Dst: string(StateCode)},
		{Name: EventShowQR, Src: []string{string(StateCode)}, Dst: string(StateQR)},
		{Name: EventShowCode, Src: []string{string(StateQR)}, Dst: string(StateCode)},
		{Name: EventConnect, Src: []string{string(StateCode), string(StateQR)}, Dst: string(StateConnecting)},
		{Name: EventConfirm, Src: []string{string(StateConnecting)}, Dst: string(StateSuccess)},
		{Name: EventTimeout, Src: []string{string(StateConnecting)}, Dst: string(StateTimeout)},
		{Name: EventExpire, Src: append(live, string(StateTimeout)), Dst: string(StateExpired)},
		{Name: EventRetry, Src: []string{string(StateTimeout)}, Dst: string(StateCode)},
		{Name: EventRegenerate, Src: []string{string(StateExpired)}, Dst: string(StateCode)},
		{Name: EventCancel, Src: append(live, string(StateForm), string(StateTimeout), string(StateExpired)), Dst: string(StateCancelled)},
	}

	// Callbacks run while s.mu is held by the caller of fire.
	callbacks := fsm.Callbacks{
		"leave_" + string(StateConnecting): func(_ context.Context, _ *fsm.Event) {
			s.cancelConnectLocked()
		},
		"enter_" + string(StateTimeout): func(_ context.Context, _ *fsm.Event) {
			s.err = apperrors.PairingTimeout()
		},
		"enter_" + string(StateExpired): func(_ context.Context, _ *fsm.Event) {
			s.remaining = 0
			s.err = apperrors.PairingExpired()
			s.cancelCountdownLocked()
		},
		"enter_" + string(StateSuccess): func(_ context.Context, e *fsm.Event) {
			if len(e.Args) > 0 {
				s.device, _ = e.Args[0].(*model.Device)
			}
			s.cancelCountdownLocked()
		},
		"enter_" + string(StateCancelled): func(_ context.Context, _ *fsm.Event) {
			s.cancelCountdownLocked()
		},
		"enter_" + string(StateCode): func(_ context.Context, e *fsm.Event) {
			if e.Event != EventShowCode {
				s.err = nil
			}
		},
	}

	s.fsm = fsm.NewFSM(string(StateForm), events, callbacks)
	return s
}

func (s *Session) State() State {
	return State(s.fsm.Current())
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:     State(s.fsm.Current()),
		Code:      s.code,
		QRPayload: s.qrPayload,
		CreatedAt: s.createdAt,
		ExpiresAt: s.expiresAt,
		Remaining: s.remaining,
		Device:    s.device,
		Err:       s.err,
	}
}

// Start leaves the form and shows the first code.
func (s *Session) Start(ctx context.Context) error {
	return s.issue(ctx, EventGenerate)
}

// Retry issues a fresh code after a connection timeout.
func (s *Session) Retry(ctx context.Context) error {
	return s.issue(ctx, EventRetry)
}

// Regenerate issues a fresh code after expiry.
func (s *Session) Regenerate(ctx context.Context) error {
	return s.issue(ctx, EventRegenerate)
}

func (s *Session) issue(ctx context.Context, event string) error {
	if !s.fsm.Can(event) {
		return fmt.Errorf("pairing: %s not allowed in state %s", event, s.fsm.Current())
	}

	res, err := s.backend.CreateCode(ctx, model.CreatePairingCodeRequest{
		DeviceName:    s.opts.DeviceName,
		WindowSeconds: int(s.opts.Window / time.Second),
	})
	if err != nil {
		return fmt.Errorf("create pairing code: %w", err)
	}

	s.mu.Lock()
	if event == EventRetry && !s.fsm.Can(event) && s.fsm.Can(EventRegenerate) {
		// the old code expired while the new one was being issued
		event = EventRegenerate
	}
	if err := s.fireLocked(event); err != nil {
		s.mu.Unlock()
		return err
	}
	now := s.opts.Now()
	s.code = res.Code
	s.qrPayload = res.QRPayload
	if s.qrPayload == "" {
		s.qrPayload = EncodePayload(res.Code, s.opts.DeviceName)
	}
	s.createdAt = now
	s.expiresAt = res.ExpiresAt
	if s.expiresAt.IsZero() {
		s.expiresAt = now.Add(s.opts.Window)
	}
	s.device = nil
	s.remaining = s.remainingLocked(now)
	s.startCountdownLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	log.Info().
		Str("code", MaskCode(res.Code)).
		Time("expiresAt", snap.ExpiresAt).
		Str("event", event).
		Msg("pairing code issued")

	s.notify(snap)
	return nil
}

func (s *Session) ShowQR() error {
	return s.fire(EventShowQR)
}

func (s *Session) ShowCode() error {
	return s.fire(EventShowCode)
}

// Connect starts waiting for the backend to confirm that a device redeemed
// the code. The wait ends in success, or in timeout after ConnectTimeout.
// The countdown keeps running and may expire the session first.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if err := s.fireLocked(EventConnect); err != nil {
		s.mu.Unlock()
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	s.stopConnect = cancel
	code := s.code
	snap := s.snapshotLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	s.notify(snap)
	go s.awaitConfirmation(waitCtx, code)
	return nil
}

// Confirm completes a pending connection, e.g. when a change event reports
// the new device before the next status poll.
func (s *Session) Confirm(device *model.Device) error {
	return s.fire(EventConfirm, device)
}

// Cancel discards the session from any non-terminal state.
func (s *Session) Cancel() error {
	return s.fire(EventCancel)
}

// Close cancels background work and waits for it to finish.
func (s *Session) Close() {
	s.mu.Lock()
	s.cancelConnectLocked()
	s.cancelCountdownLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Session) fire(event string, args ...any) error {
	s.mu.Lock()
	if err := s.fireLocked(event, args...); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

func (s *Session) fireLocked(event string, args ...any) error {
	from := s.fsm.Current()
	if err := s.fsm.Event(context.Background(), event, args...); err != nil {
		return fmt.Errorf("pairing: %s from %s: %w", event, from, err)
	}
	log.Debug().Str("from", from).Str("to", s.fsm.Current()).Str("event", event).Msg("pairing session transition")
	return nil
}

func (s *Session) awaitConfirmation(ctx context.Context, code string) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if done := s.checkOnce(ctx, code); done {
			return
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				s.fireIf(StateConnecting, EventTimeout)
			}
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) checkOnce(ctx context.Context, code string) bool {
	res, err := s.backend.CheckCodeStatus(ctx, code)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("code", MaskCode(code)).Msg("pairing status check failed")
		}
		return false
	}

	switch res.Status {
	case model.CodeStatusPaired:
		s.fireIf(StateConnecting, EventConfirm, res.Device)
		return true
	case model.CodeStatusExpired:
		s.fireIf(StateConnecting, EventExpire)
		return true
	}
	return false
}

// fireIf fires event only while the session is still in state, so a stale
// goroutine cannot act on a session that has moved on.
func (s *Session) fireIf(state State, event string, args ...any) {
	s.mu.Lock()
	if State(s.fsm.Current()) != state {
		s.mu.Unlock()
		return
	}
	if err := s.fireLocked(event, args...); err != nil {
		s.mu.Unlock()
		log.Error().Err(err).Msg("pairing session transition failed")
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Session) startCountdownLocked() {
	s.cancelCountdownLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.stopCountdown = cancel
	s.wg.Add(1)
	go s.countdown(ctx)
}

func (s *Session) countdown(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.remaining = s.remainingLocked(s.opts.Now())
		expired := s.remaining == 0
		if expired && s.fsm.Can(EventExpire) {
			if err := s.fireLocked(EventExpire); err != nil {
				log.Error().Err(err).Msg("pairing session expiry failed")
			}
		}
		snap := s.snapshotLocked()
		s.mu.Unlock()

		s.notify(snap)
		if expired {
			return
		}
	}
}

// remainingLocked rounds up to the tick so the display never shows zero
// before the code has actually expired.
func (s *Session) remainingLocked(now time.Time) time.Duration {
	left := s.expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	if rem := left % s.opts.Tick; rem != 0 {
		left += s.opts.Tick - rem
	}
	return left
}

func (s *Session) cancelCountdownLocked() {
	if s.stopCountdown != nil {
		s.stopCountdown()
		s.stopCountdown = nil
	}
}

func (s *Session) cancelConnectLocked() {
	if s.stopConnect != nil {
		s.stopConnect()
		s.stopConnect = nil
	}
}

func (s *Session) notify(snap Snapshot) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(snap)
	}
}

// LocalIssuer generates codes without a server, for offline display flows
// and tests. It performs no collision checking.
type LocalIssuer struct {
	Window time.Duration
	Now    func() time.Time
}

func (l LocalIssuer) CreateCode(_ context.Context, req model.CreatePairingCodeRequest) (*model.CreatePairingCodeResult, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	window := l.Window
	if req.WindowSeconds > 0 {
		window = time.Duration(req.WindowSeconds) * time.Second
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &model.CreatePairingCodeResult{
		Code:      code,
		QRPayload: EncodePayload(code, req.DeviceName),
		ExpiresAt: now().Add(window),
	}, nil
}

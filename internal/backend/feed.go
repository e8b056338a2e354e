package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/config"
	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/metrics"
	"github.com/sentinelr/devicesync/internal/model"
)

const feedWriteWait = 10 * time.Second

// Change is delivered to feed subscribers. Resync is set after a reconnect,
// when events may have been missed and the consumer should refetch. Err is
// set on the last change of a subscription that gave up, which happens when
// the server rejects the credentials.
type Change struct {
	Event  model.ChangeEvent
	Resync bool
	Err    error
}

type ChangeHandler func(Change)

type FeedOptions struct {
	Tables         []model.ChangeTable
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// ReadTimeout bounds silence from the server; pings reset it.
	ReadTimeout time.Duration
	Header      http.Header
}

func (o *FeedOptions) setDefaults() {
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = config.FeedBackoffInitial
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = config.FeedBackoffMax
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * config.FeedPingInterval
	}
}

// Feed dials the change-event websocket.
type Feed struct {
	url    string
	dialer *websocket.Dialer
	opts   FeedOptions
}

func NewFeed(url string, opts FeedOptions) *Feed {
	opts.setDefaults()
	return &Feed{
		url:    url,
		dialer: websocket.DefaultDialer,
		opts:   opts,
	}
}

func (c *Client) Feed(opts FeedOptions) *Feed {
	return NewFeed(c.EventsURL(), opts)
}

// Subscription is one live feed connection, reconnecting until closed.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close cancels the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Subscribe starts delivering changes to fn until ctx ends or Close is
// called. fn runs on the subscription goroutine.
func (f *Feed) Subscribe(ctx context.Context, fn ChangeHandler) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		f.run(ctx, fn)
	}()
	return sub
}

func (f *Feed) run(ctx context.Context, fn ChangeHandler) {
	attempt := 0
	connected := false

	for {
		conn, resp, err := f.dialer.DialContext(ctx, f.url, f.opts.Header)
		if err != nil && resp != nil && resp.StatusCode == http.StatusUnauthorized {
			log.Warn().Int("status", resp.StatusCode).Msg("change feed rejected credentials, not reconnecting")
			fn(Change{Err: apperrors.Unauthorized("change feed rejected the operator token").WithCause(err)})
			return
		}
		if err == nil {
			metrics.FeedConnected.Set(1)
			if connected {
				fn(Change{Resync: true})
			}
			connected = true
			attempt = 0

			err = f.read(ctx, conn, fn)
			metrics.FeedConnected.Set(0)
		}

		if ctx.Err() != nil {
			return
		}

		delay := backoffDelay(attempt, f.opts.BackoffInitial, f.opts.BackoffMax)
		attempt++
		metrics.FeedReconnects.Inc()
		log.Warn().Err(err).Dur("retryIn", delay).Msg("change feed disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (f *Feed) read(ctx context.Context, conn *websocket.Conn, fn ChangeHandler) error {
	readDone := make(chan struct{})
	defer close(readDone)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(feedWriteWait))
			_ = conn.Close()
		case <-readDone:
			_ = conn.Close()
		}
	}()

	conn.SetReadDeadline(time.Now().Add(f.opts.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(f.opts.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(feedWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(f.opts.ReadTimeout))

		var ev model.ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed change event")
			continue
		}
		if !f.wants(ev.Table) {
			continue
		}
		fn(Change{Event: ev})
	}
}

func (f *Feed) wants(table model.ChangeTable) bool {
	return len(f.opts.Tables) == 0 || slices.Contains(f.opts.Tables, table)
}

// backoffDelay doubles from initial per attempt, capped at ceiling.
func backoffDelay(attempt int, initial, ceiling time.Duration) time.Duration {
	d := initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}

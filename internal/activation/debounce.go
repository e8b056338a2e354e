package activation

import (
	"sync"
	"time"

	"github.com/sentinelr/devicesync/internal/pairing"
)

const DefaultDebounce = 150 * time.Millisecond

// InputDebouncer coalesces keystrokes and reports the normalized code once
// typing pauses.
type InputDebouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	pending *string
	onValue func(string)
}

func NewInputDebouncer(delay time.Duration, onValue func(string)) *InputDebouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &InputDebouncer{delay: delay, onValue: onValue}
}

func (d *InputDebouncer) Feed(raw string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = &raw
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

// Flush reports any pending input immediately.
func (d *InputDebouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.fire()
}

func (d *InputDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}

func (d *InputDebouncer) fire() {
	d.mu.Lock()
	raw := d.pending
	d.pending = nil
	d.mu.Unlock()

	if raw != nil {
		d.onValue(pairing.NormalizeInput(*raw))
	}
}

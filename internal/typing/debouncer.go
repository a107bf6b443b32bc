// Package typing turns keystrokes into typing-indicator writes.
package typing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is how long after the last keystroke the indicator clears.
const DefaultTimeout = 1000 * time.Millisecond

// SetFunc writes the local user's typing state.
type SetFunc func(ctx context.Context, typing bool) error

// Debouncer is owned by one input component. The first keystroke reports
// typing once; every keystroke pushes the deadline back; the deadline, a sent
// message or nothing at all (Close) ends the typing state. Writes happen in
// order on a single worker goroutine.
type Debouncer struct {
	set     SetFunc
	timeout time.Duration
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	writes chan bool
	done   chan struct{}

	mu     sync.Mutex
	active bool
	timer  *time.Timer
	gen    int
	closed bool
}

// New starts a debouncer. A non-positive timeout uses DefaultTimeout.
func New(set SetFunc, timeout time.Duration, logger *zap.Logger) *Debouncer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Debouncer{
		set:     set,
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		writes:  make(chan bool, 16),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Debouncer) run() {
	defer close(d.done)
	for {
		select {
		case <-d.ctx.Done():
			return
		case v := <-d.writes:
			if err := d.set(d.ctx, v); err != nil && d.ctx.Err() == nil {
				d.logger.Warn("typing update failed", zap.Bool("typing", v), zap.Error(err))
			}
		}
	}
}

func (d *Debouncer) enqueue(v bool) {
	select {
	case d.writes <- v:
	case <-d.ctx.Done():
	}
}

// Keystroke records input activity.
func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	start := !d.active
	d.active = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.timeout, func() { d.expire(gen) })
	d.mu.Unlock()

	if start {
		d.enqueue(true)
	}
}

func (d *Debouncer) expire(gen int) {
	d.mu.Lock()
	if d.closed || gen != d.gen || !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.mu.Unlock()
	d.enqueue(false)
}

// Sent clears the typing state immediately after a message goes out.
func (d *Debouncer) Sent() {
	d.mu.Lock()
	if d.closed || !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.enqueue(false)
}

// Typing reports whether the typing state is currently on.
func (d *Debouncer) Typing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Close cancels the pending deadline without writing and stops the worker.
// Writes still queued are discarded.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.cancel()
	<-d.done
}

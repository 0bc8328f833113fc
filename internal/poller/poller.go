// Package poller runs a cancellable fetch-then-wait loop that keeps a collection
// of remote entities fresh.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/kjstillabower/zappai-client/internal/observability"
)

// DefaultInterval is used when Start is given a non-positive interval.
const DefaultInterval = 30 * time.Second

// ErrAlreadyPolling is returned by Start while a previous loop of the same Poller is still running.
var ErrAlreadyPolling = errors.New("poller already running")

// Clock is the time source of the wait step. github.com/facebookgo/clock
// satisfies it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Options configures a Poller.
type Options struct {
	Name   string // log field and metric context
	Clock  Clock
	Logger *zap.Logger
}

// Poller owns at most one running loop at a time. Create one per consumer; handles
// are never shared between pollers.
type Poller[T any] struct {
	name   string
	clock  Clock
	logger *zap.Logger

	mu     sync.Mutex
	active *Handle
}

// New creates a stopped Poller.
func New[T any](opts Options) *Poller[T] {
	c := opts.Clock
	if c == nil {
		c = clock.New()
	}
	name := opts.Name
	if name == "" {
		name = "poller"
	}
	return &Poller[T]{
		name:   name,
		clock:  c,
		logger: observability.OrNop(opts.Logger).With(zap.String("poller", name)),
	}
}

// Handle controls one running loop.
type Handle struct {
	// mu is held across the post-fetch cancellation check and the callback.
	mu        sync.Mutex
	cancelled atomic.Bool
	once      sync.Once
	wake      chan struct{}
	done      chan struct{}
}

func newHandle() *Handle {
	return &Handle{wake: make(chan struct{}), done: make(chan struct{})}
}

// Cancel requests that the loop stop. A fetch already in flight is not aborted but
// its result is discarded. If onUpdate or onError is running, Cancel waits for it
// to return; once Cancel returns no further callback runs. Safe to call more than
// once and from any goroutine except from inside onUpdate or onError.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelLocked()
}

func (h *Handle) cancelLocked() {
	h.once.Do(func() {
		h.cancelled.Store(true)
		close(h.wake)
	})
}

// Cancelled reports whether Cancel was called or the Start context ended.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// Done is closed when the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the loop has exited.
func (h *Handle) Wait() {
	<-h.done
}

// Running reports whether a loop is active.
func (p *Poller[T]) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// Start launches the loop: fetch immediately, deliver the result to onUpdate or
// onError, wait interval, repeat until cancelled. A failing fetch never stops the
// loop. fetch receives ctx, so cancelling ctx aborts the in-flight request and
// stops the loop; Handle.Cancel does neither abort nor wait for the request.
// onUpdate and onError run on the loop goroutine, may be nil and must not call
// Handle.Cancel.
func (p *Poller[T]) Start(
	ctx context.Context,
	interval time.Duration,
	fetch func(context.Context) (T, error),
	onUpdate func(T),
	onError func(error),
) (*Handle, error) {
	if fetch == nil {
		return nil, errors.New("poller: fetch is required")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return nil, ErrAlreadyPolling
	}
	h := newHandle()
	p.active = h
	go p.run(ctx, h, interval, fetch, onUpdate, onError)
	return h, nil
}

func (p *Poller[T]) run(
	ctx context.Context,
	h *Handle,
	interval time.Duration,
	fetch func(context.Context) (T, error),
	onUpdate func(T),
	onError func(error),
) {
	defer close(h.done)
	defer p.release(h)

	p.logger.Debug("poll loop started", zap.Duration("interval", interval))
	defer p.logger.Debug("poll loop stopped")

	for {
		if p.stopped(ctx, h) {
			return
		}

		start := p.clock.Now()
		value, err := fetch(ctx)
		observability.PollFetchDuration.Observe(p.clock.Now().Sub(start).Seconds())

		if !p.deliver(ctx, h, value, err, onUpdate, onError) {
			observability.PollDiscardedTotal.Inc()
			p.logger.Debug("discarding poll result after cancellation")
			return
		}

		select {
		case <-h.wake:
			return
		case <-ctx.Done():
			h.Cancel()
			return
		case <-p.clock.After(interval):
		}
	}
}

// stopped is checked before each fetch.
func (p *Poller[T]) stopped(ctx context.Context, h *Handle) bool {
	if ctx.Err() != nil {
		h.Cancel()
	}
	return h.Cancelled()
}

// deliver hands a fetch result to the callbacks unless the loop was cancelled
// while the fetch ran. The check and the callback happen under h.mu, so a
// concurrent Cancel either sees the callback finish or prevents it.
func (p *Poller[T]) deliver(
	ctx context.Context,
	h *Handle,
	value T,
	err error,
	onUpdate func(T),
	onError func(error),
) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ctx.Err() != nil {
		h.cancelLocked()
	}
	if h.Cancelled() {
		return false
	}
	if err != nil {
		observability.PollCyclesTotal.WithLabelValues("error").Inc()
		p.logger.Warn("poll failed", zap.Error(err))
		if onError != nil {
			onError(err)
		}
		return true
	}
	observability.PollCyclesTotal.WithLabelValues("success").Inc()
	if onUpdate != nil {
		onUpdate(value)
	}
	return true
}

func (p *Poller[T]) release(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == h {
		p.active = nil
	}
}

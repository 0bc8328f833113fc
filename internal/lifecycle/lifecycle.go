package lifecycle

import (
	"sync"
	"sync/atomic"
)

// Shutdown is the process-wide draining flag. The status server reports
// shutting-down while it is set; the watch loop sets it on SIGINT/SIGTERM
// before unmounting views.
type Shutdown struct {
	active atomic.Bool
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason string
}

// NewShutdown returns an unset flag.
func NewShutdown() *Shutdown {
	return &Shutdown{done: make(chan struct{})}
}

// Begin sets the flag. Only the first reason is kept.
func (s *Shutdown) Begin(reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		s.active.Store(true)
		close(s.done)
	})
}

// Active reports whether Begin was called.
func (s *Shutdown) Active() bool {
	return s.active.Load()
}

// Reason returns the reason passed to the first Begin.
func (s *Shutdown) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed by the first Begin.
func (s *Shutdown) Done() <-chan struct{} {
	return s.done
}

package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/zappai-client/internal/models"
	"github.com/kjstillabower/zappai-client/internal/observability"
)

// Phase is the lifecycle position of the process-wide session.
type Phase int

const (
	PhaseUnresolved Phase = iota
	PhaseResolving
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseUnresolved:
		return "unresolved"
	case PhaseResolving:
		return "resolving"
	case PhaseResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of State. Session is nil when absent.
type Snapshot struct {
	Phase   Phase
	Session *models.Session
}

// Authenticated reports whether the snapshot is Resolved with a session.
func (s Snapshot) Authenticated() bool {
	return s.Phase == PhaseResolved && s.Session != nil
}

// State holds the current session and notifies subscribers of every transition.
//
// Subscribers run synchronously, in subscription order, while the transition lock
// is held, so all of them see every transition in the same order. A subscriber must
// not call a mutating State method or an unsubscribe func; that deadlocks.
type State struct {
	mu            sync.Mutex
	phase         Phase
	session       *models.Session
	expirePending bool
	subs          []subscriber
	nextID        int
	logger        *zap.Logger
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// NewState returns a State in PhaseUnresolved.
func NewState(logger *zap.Logger) *State {
	return &State{logger: observability.OrNop(logger)}
}

// Snapshot returns the current phase and a copy of the session.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for every future transition. It does not replay the
// current value; read Snapshot for that.
func (s *State) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// BeginResolve moves Unresolved to Resolving. It returns false if resolution
// already started.
func (s *State) BeginResolve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseUnresolved {
		return false
	}
	s.phase = PhaseResolving
	s.notifyLocked("resolving")
	return true
}

// Publish completes startup resolution: Resolving to Resolved(session). It is a
// no-op returning false outside PhaseResolving. An Expire received while resolving
// wins over the resolved session.
func (s *State) Publish(sess *models.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseResolving {
		return false
	}
	if s.expirePending {
		sess = nil
		s.expirePending = false
	}
	s.phase = PhaseResolved
	s.session = sess.Clone()
	s.notifyLocked(transitionLabel(s.session))
	return true
}

// SetSession records a fresh login. It moves any phase to Resolved(sess).
func (s *State) SetSession(sess *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseResolved
	s.session = sess.Clone()
	s.expirePending = false
	s.notifyLocked(transitionLabel(s.session))
}

// Expire moves the state to Resolved(absent), for logout or an auth failure from
// any call. While Resolving, the expiry is held until Publish.
// Expiring an already absent session notifies nobody.
func (s *State) Expire(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case PhaseResolving:
		s.expirePending = true
		s.logger.Info("session expiry deferred until resolution completes", zap.String("reason", reason))
		return
	case PhaseResolved:
		if s.session == nil {
			return
		}
	}
	s.phase = PhaseResolved
	s.session = nil
	s.logger.Info("session expired", zap.String("reason", reason))
	s.notifyLocked("resolved_absent")
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{Phase: s.phase, Session: s.session.Clone()}
}

func (s *State) notifyLocked(label string) {
	observability.SessionTransitionsTotal.WithLabelValues(label).Inc()
	snap := s.snapshotLocked()
	s.logger.Debug("session transition", zap.String("phase", snap.Phase.String()), zap.Bool("authenticated", snap.Authenticated()))
	for _, sub := range s.subs {
		sub.fn(Snapshot{Phase: snap.Phase, Session: snap.Session.Clone()})
	}
}

func transitionLabel(sess *models.Session) string {
	if sess == nil {
		return "resolved_absent"
	}
	return "resolved_session"
}

package overlay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sign-overlay/internal/platform/metrics"
	"sign-overlay/internal/platform/serial"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown or ended session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session is one overlay playback session for a video.
type Session struct {
	ID        string
	Reference string
	Identity  Identity
	Outcome   Outcome
	StartedAt time.Time
	Scheduler *Scheduler
}

// SessionManager owns the open sessions. Each session has its own Scheduler;
// ending a session closes it so its pending dwell callbacks become no-ops.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	coord     *Coordinator
	queue     *serial.Queue
	afterFunc AfterFunc
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewSessionManager returns an empty manager. afterFunc may be nil.
func NewSessionManager(coord *Coordinator, queue *serial.Queue, afterFunc AfterFunc, log *slog.Logger, m *metrics.Metrics) *SessionManager {
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	return &SessionManager{
		sessions:  make(map[string]*Session),
		coord:     coord,
		queue:     queue,
		afterFunc: afterFunc,
		log:       log,
		metrics:   m,
	}
}

// Start resolves reference and opens a session playing its cues. Upload
// failures are returned; every other failure yields a session without cues.
func (m *SessionManager) Start(ctx context.Context, reference string) (*Session, error) {
	res, err := m.coord.Resolve(ctx, reference)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	sched := NewScheduler(
		WithAfterFunc(m.afterFunc),
		WithQueue(m.queue),
		WithSchedulerLogger(m.log.With(slog.String("session_id", id))),
		WithSchedulerMetrics(m.metrics),
	)
	sched.AttachCueSet(res.Cues)

	sess := &Session{
		ID:        id,
		Reference: reference,
		Identity:  res.Identity,
		Outcome:   res.Outcome,
		StartedAt: time.Now().UTC(),
		Scheduler: sched,
	}

	m.mu.Lock()
	m.sessions[id] = sess
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(n)
	m.log.Info("session started",
		slog.String("session_id", id),
		slog.String("identity", string(res.Identity)),
		slog.String("outcome", string(res.Outcome)),
		slog.Int("cues", len(res.Cues)))
	return sess, nil
}

// Get returns the open session with id.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// End closes and forgets the session with id.
func (m *SessionManager) End(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	sess.Scheduler.Close()
	m.metrics.SetActiveSessions(n)
	m.log.Info("session ended", slog.String("session_id", id))
	return nil
}

// CloseAll ends every open session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Scheduler.Close()
	}
	m.metrics.SetActiveSessions(0)
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

package overlay

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"sign-overlay/internal/platform/metrics"
	"sign-overlay/internal/platform/serial"
)

// State is the scheduler state derived from the cursor.
type State string

const (
	StateIdle    State = "idle"
	StateSeeking State = "seeking"
	StateShowing State = "showing"
	StateDone    State = "done"
)

// Cursor is the scheduler's mutable playback position.
type Cursor struct {
	Index     int     `json:"index"`
	ClockTime float64 `json:"clock_time"`
	Playing   bool    `json:"playing"`
}

// Stopper cancels a deferred callback.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Scheduler drives one cue list against the host player's clock.
//
// Two projections share the cursor: CurrentCue gates visibility on the clock,
// while the dwell chain started by OnCueAppeared advances the index on each
// cue's display duration alone. After the first appearance the chain never
// consults the clock, so a cue whose start time is never reached is skipped
// on schedule without rendering. At most one chain runs per cue list; later
// appearances while it runs do not start another.
type Scheduler struct {
	mu      sync.Mutex
	sorted  []Cue
	cursor  Cursor
	gen     uint64
	closed  bool
	armed   bool
	pending map[uint64]Stopper
	nextID  uint64

	afterFunc AfterFunc
	queue     *serial.Queue
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithAfterFunc replaces time.AfterFunc, mainly for tests.
func WithAfterFunc(f AfterFunc) SchedulerOption {
	return func(s *Scheduler) { s.afterFunc = f }
}

// WithQueue runs dwell callbacks on q instead of the timer goroutine.
func WithQueue(q *serial.Queue) SchedulerOption {
	return func(s *Scheduler) { s.queue = q }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

// WithSchedulerMetrics counts dwell chain advances on m.
func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler returns a scheduler with no cues that is marked playing.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cursor:    Cursor{Playing: true},
		pending:   make(map[uint64]Stopper),
		afterFunc: realAfterFunc,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttachCueSet installs cues ordered by priority and rewinds to the first one.
// Dwell callbacks scheduled for a previous cue list are ignored from now on.
func (s *Scheduler) AttachCueSet(cues []Cue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopPendingLocked()
	s.gen++
	s.armed = false
	s.sorted = SortCues(cues)
	s.cursor.Index = 0
	s.cursor.Playing = true
}

// OnClockTick records the player's position in seconds and reports whether
// the scheduler is still playing. Once it returns false the clock source
// should stop delivering ticks.
func (s *Scheduler) OnClockTick(t float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursor.ClockTime = t
	return s.cursor.Playing
}

// CurrentCue returns the cue to render now and its index. It reports false
// when nothing should render: the list is empty or exhausted (both stop
// playback), or the current cue's start time is absent or not yet reached.
func (s *Scheduler) CurrentCue() (Cue, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sorted) == 0 {
		s.cursor.Playing = false
		return Cue{}, 0, false
	}
	if s.cursor.Index >= len(s.sorted) {
		s.cursor.Playing = false
		return Cue{}, s.cursor.Index, false
	}

	c := s.sorted[s.cursor.Index]
	if c.StartTime == nil || s.cursor.ClockTime < *c.StartTime {
		return Cue{}, s.cursor.Index, false
	}
	return c, s.cursor.Index, true
}

// OnCueAppeared is called by the renderer when cue i becomes visible. The
// first call for a cue list starts the dwell chain with the cue's display
// duration; calls while the chain is running are ignored.
func (s *Scheduler) OnCueAppeared(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.armed || i < 0 || i >= len(s.sorted) {
		return
	}
	s.armed = true
	s.scheduleLocked(s.gen, s.sorted[i].Dwell())
}

// Advance moves to the next cue and re-arms the dwell chain for it, or stops
// playback when the list is exhausted.
func (s *Scheduler) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked()
}

func (s *Scheduler) advance(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.gen {
		s.log.Debug("stale dwell callback ignored")
		return
	}
	s.advanceLocked()
}

func (s *Scheduler) advanceLocked() {
	// A manual Advance replaces the running chain instead of adding one.
	s.stopPendingLocked()
	s.cursor.Index++
	s.metrics.IncCueAdvances()

	if s.cursor.Index >= len(s.sorted) {
		s.cursor.Playing = false
		s.armed = false
		return
	}
	// Re-armed whether or not the new cue passes the clock gate.
	s.armed = true
	s.scheduleLocked(s.gen, s.sorted[s.cursor.Index].Dwell())
}

// scheduleLocked arms one deferred advance for generation gen.
// Caller must hold s.mu.
func (s *Scheduler) scheduleLocked(gen uint64, seconds float64) {
	s.nextID++
	id := s.nextID
	d := dwellDuration(seconds)

	s.pending[id] = s.afterFunc(d, func() {
		s.mu.Lock()
		_, live := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if !live {
			// Stopped after it had already started firing.
			return
		}

		if s.queue != nil {
			if err := s.queue.Post(func() { s.advance(gen) }); err == nil {
				return
			}
		}
		s.advance(gen)
	})
}

// dwellDuration converts seconds to a timer delay clamped to
// [0, math.MaxInt64] nanoseconds. NaN counts as zero.
func dwellDuration(seconds float64) time.Duration {
	if !(seconds > 0) {
		return 0
	}
	if seconds >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(seconds * float64(time.Second))
}

func (s *Scheduler) stopPendingLocked() {
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}

// Close abandons the session. Callbacks that still fire are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.gen++
	s.armed = false
	s.cursor.Playing = false
	s.stopPendingLocked()
}

// Cursor returns a snapshot of the playback cursor.
func (s *Scheduler) Cursor() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Cues returns the sorted cue list.
func (s *Scheduler) Cues() []Cue {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Cue, len(s.sorted))
	copy(out, s.sorted)
	return out
}

// State reports the state without mutating the cursor.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case len(s.sorted) == 0:
		return StateIdle
	case s.cursor.Index >= len(s.sorted):
		return StateDone
	case !s.cursor.Playing:
		return StateIdle
	}
	c := s.sorted[s.cursor.Index]
	if c.StartTime == nil || s.cursor.ClockTime < *c.StartTime {
		return StateSeeking
	}
	return StateShowing
}

// Follow samples position every interval and feeds it to OnClockTick until
// playback stops or ctx is done. Each cue that newly passes the clock gate is
// handed to r, which must call OnCueAppeared when it is visible. Follow has no
// caller in the server, which takes clock samples over HTTP; it serves hosts
// that embed the package next to a player.
func (s *Scheduler) Follow(ctx context.Context, interval time.Duration, position func() float64, r Renderer) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	shown := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if !s.OnClockTick(position()) {
			return nil
		}
		cue, idx, ok := s.CurrentCue()
		if ok && idx != shown && r != nil {
			shown = idx
			r.Show(idx, cue)
		}
	}
}

package overlay

import (
	"context"
)

// Service is the entry point used by the HTTP handler. It combines the
// coordinator, the cache and the open sessions.
type Service struct {
	coord    *Coordinator
	cache    *CacheStore
	sessions *SessionManager
}

// NewService returns a Service over the given components.
func NewService(coord *Coordinator, cache *CacheStore, sessions *SessionManager) *Service {
	return &Service{coord: coord, cache: cache, sessions: sessions}
}

// Resolve resolves reference to its cue list.
func (s *Service) Resolve(ctx context.Context, reference string) (Resolution, error) {
	return s.coord.Resolve(ctx, reference)
}

// ResolveInBackground resolves reference without blocking the caller and
// hands the result to done on the coordinating queue.
func (s *Service) ResolveInBackground(ctx context.Context, reference string, done func(Resolution, error)) {
	s.coord.ResolveAsync(ctx, reference, done)
}

// Remember caches a URL-kind record for reference.
func (s *Service) Remember(ctx context.Context, reference string) (Identity, bool, error) {
	inserted, err := s.coord.Remember(ctx, reference)
	return s.coord.Identity(reference), inserted, err
}

// Records returns every cached record.
func (s *Service) Records() []Record {
	return s.cache.List()
}

// Record returns the cached record for identity.
func (s *Service) Record(identity Identity) (Record, bool) {
	return s.cache.Find(identity)
}

// DeleteRecord removes the cached record for identity.
func (s *Service) DeleteRecord(ctx context.Context, identity Identity) bool {
	return s.cache.Delete(ctx, identity)
}

// ClearCache removes every cached record.
func (s *Service) ClearCache(ctx context.Context) {
	s.cache.Clear(ctx)
}

// StartSession resolves reference and opens a playback session for it.
func (s *Service) StartSession(ctx context.Context, reference string) (*Session, error) {
	return s.sessions.Start(ctx, reference)
}

// Tick delivers a clock sample to a session and reports whether it is still
// playing.
func (s *Service) Tick(id string, t float64) (bool, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return false, err
	}
	return sess.Scheduler.OnClockTick(t), nil
}

// Current returns the cue a session should render now.
func (s *Service) Current(id string) (cue Cue, index int, ok bool, cursor Cursor, err error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return Cue{}, 0, false, Cursor{}, err
	}
	cue, index, ok = sess.Scheduler.CurrentCue()
	return cue, index, ok, sess.Scheduler.Cursor(), nil
}

// Appeared reports that cue index of a session became visible.
func (s *Service) Appeared(id string, index int) error {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return err
	}
	sess.Scheduler.OnCueAppeared(index)
	return nil
}

// CueTrack renders a session's cues as WebVTT.
func (s *Service) CueTrack(id string) (string, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return "", err
	}
	return BuildCueTrack(sess.Scheduler.Cues()), nil
}

// EndSession closes a session.
func (s *Service) EndSession(id string) error {
	return s.sessions.End(id)
}

// ActiveSessions returns the number of open sessions.
func (s *Service) ActiveSessions() int {
	return s.sessions.Len()
}

// CachedRecords returns the number of cached records.
func (s *Service) CachedRecords() int {
	return s.cache.Len()
}

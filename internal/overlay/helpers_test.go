package overlay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"sign-overlay/internal/platform/serial"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testQueue(t *testing.T) *serial.Queue {
	t.Helper()
	q := serial.New("test", 16, testLogger())
	t.Cleanup(func() { _ = q.Stop(time.Second) })
	return q
}

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

// fakeTimers records deferred callbacks and runs them only when fired.
type fakeTimers struct {
	mu      sync.Mutex
	pending []*fakeTimer
}

type fakeTimer struct {
	owner   *fakeTimers
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Stopper {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{owner: ft, delay: d, fn: f}
	ft.pending = append(ft.pending, t)
	return t
}

// live returns the delays of timers that have neither fired nor been stopped.
func (ft *fakeTimers) live() []time.Duration {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var out []time.Duration
	for _, t := range ft.pending {
		if !t.stopped {
			out = append(out, t.delay)
		}
	}
	return out
}

// fireNext runs the oldest live timer, reporting false if there is none.
func (ft *fakeTimers) fireNext() bool {
	ft.mu.Lock()
	var next *fakeTimer
	for i, t := range ft.pending {
		if !t.stopped {
			next = t
			ft.pending = append(ft.pending[:i:i], ft.pending[i+1:]...)
			break
		}
	}
	ft.mu.Unlock()
	if next == nil {
		return false
	}
	next.fn()
	return true
}

// fireAll runs every recorded timer, stopped ones included, the way a
// callback that was already in flight behaves.
func (ft *fakeTimers) fireAll() {
	ft.mu.Lock()
	all := ft.pending
	ft.pending = nil
	ft.mu.Unlock()
	for _, t := range all {
		t.fn()
	}
}

type stubUploader struct {
	mu       sync.Mutex
	path     string
	err      error
	calls    int
	filename string
}

func (u *stubUploader) Upload(_ context.Context, _ []byte, filename string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.filename = filename
	return u.path, u.err
}

type stubFetcher struct {
	mu    sync.Mutex
	set   *CueSet
	err   error
	calls int
	path  string
}

func (f *stubFetcher) FetchCues(_ context.Context, _ Identity, storagePath string) (*CueSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.path = storagePath
	return f.set, f.err
}

type recordingRegistrar struct {
	mu    sync.Mutex
	calls []Identity
	err   error
}

func (r *recordingRegistrar) RegisterBundle(_ context.Context, id Identity, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	return r.err
}

func (r *recordingRegistrar) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type stubAssets struct {
	err error
}

func (a stubAssets) ReadAsset(context.Context, string) ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	return []byte("video-bytes"), nil
}

type failingBlobStore struct{}

func (failingBlobStore) LoadBlob(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func (failingBlobStore) SaveBlob(context.Context, string, []byte) error {
	return errors.New("disk on fire")
}

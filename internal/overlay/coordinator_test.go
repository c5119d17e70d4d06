package overlay

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type coordFixture struct {
	coord    *Coordinator
	cache    *CacheStore
	uploader *stubUploader
	fetcher  *stubFetcher
	reg      *recordingRegistrar
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()
	f := &coordFixture{
		uploader: &stubUploader{path: "/uploads/video.mp4"},
		fetcher:  &stubFetcher{},
		reg:      &recordingRegistrar{},
	}
	f.cache = newTestCache(t, NewMemoryBlobStore(), WithRegistrar(f.reg))
	f.coord = NewCoordinator(CoordinatorDeps{
		Namespace: "com.app",
		Cache:     f.cache,
		Uploader:  f.uploader,
		Fetcher:   f.fetcher,
		Assets:    stubAssets{},
		Queue:     testQueue(t),
		Log:       testLogger(),
	})
	return f
}

func TestCoordinator_Resolve_miss_uploads_and_caches(t *testing.T) {
	f := newCoordFixture(t)

	res, err := f.coord.Resolve(context.Background(), "/var/folder/video.mp4")
	require.NoError(t, err)
	require.Equal(t, OutcomeMiss, res.Outcome)
	require.Equal(t, Identity("com.app.folder/video.mp4"), res.Identity)
	require.Empty(t, res.Cues)
	require.Equal(t, "video.mp4", f.uploader.filename)
	require.Zero(t, f.fetcher.calls)

	rec, ok := f.cache.Find(res.Identity)
	require.True(t, ok)
	require.Equal(t, SourceFile, rec.Kind)
	require.Equal(t, "/uploads/video.mp4", rec.Location)
	require.Equal(t, "/var/folder/video.mp4", rec.OriginalReference)
	require.Nil(t, rec.CueSet)

	f.cache.WaitRegistrations()
	require.Equal(t, 1, f.reg.count())
}

func TestCoordinator_Resolve_upload_failure(t *testing.T) {
	// A failed upload is reported and nothing is cached.
	f := newCoordFixture(t)
	f.uploader.err = errors.New("connection reset")

	_, err := f.coord.Resolve(context.Background(), "folder/video.mp4")
	require.ErrorIs(t, err, ErrUploadFailed)
	require.Contains(t, err.Error(), "connection reset")
	require.Zero(t, f.cache.Len())

	f.cache.WaitRegistrations()
	require.Zero(t, f.reg.count())
}

func TestCoordinator_Resolve_unreadable_source(t *testing.T) {
	f := newCoordFixture(t)
	f.coord.assets = stubAssets{err: os.ErrNotExist}

	_, err := f.coord.Resolve(context.Background(), "folder/video.mp4")
	require.ErrorIs(t, err, ErrUploadFailed)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Zero(t, f.uploader.calls)
	require.Zero(t, f.cache.Len())
}

func TestCoordinator_Resolve_hit_returns_fetched_cues(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()
	id := Identity("com.app.folder/video.mp4")
	f.cache.Upsert(ctx, Record{Kind: SourceFile, Location: "/uploads/stored.mp4", Identity: id})

	f.fetcher.set = &CueSet{Status: true, Cues: []Cue{
		{Priority: 1, StartTime: f64(1)},
		{Priority: 0, StartTime: f64(0)},
	}}

	res, err := f.coord.Resolve(ctx, "/other/root/folder/video.mp4")
	require.NoError(t, err)
	require.Equal(t, OutcomeHit, res.Outcome)
	require.Len(t, res.Cues, 2)
	require.Equal(t, "/uploads/stored.mp4", f.fetcher.path)
	require.Zero(t, f.uploader.calls)

	// The cached record keeps its first write.
	rec, _ := f.cache.Find(id)
	require.Nil(t, rec.CueSet)
}

func TestCoordinator_Resolve_hit_fetch_failure_degrades(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()
	id := Identity("com.app.folder/video.mp4")
	cached := &CueSet{Status: true, Cues: []Cue{{Priority: 0, StartTime: f64(2)}}}
	f.cache.Upsert(ctx, Record{Kind: SourceURL, Location: "/folder/video.mp4", Identity: id, CueSet: cached})
	f.fetcher.err = errors.New("timeout")

	res, err := f.coord.Resolve(ctx, "folder/video.mp4")
	require.NoError(t, err)
	require.Equal(t, OutcomeHit, res.Outcome)
	require.Equal(t, cached.Cues, res.Cues)

	t.Run("no_cached_cues", func(t *testing.T) {
		f := newCoordFixture(t)
		f.cache.Upsert(ctx, Record{Identity: id, Location: "/x"})
		f.fetcher.err = errors.New("timeout")

		res, err := f.coord.Resolve(ctx, "folder/video.mp4")
		require.NoError(t, err)
		require.Empty(t, res.Cues)
	})
}

func TestCoordinator_Resolve_disabled(t *testing.T) {
	f := newCoordFixture(t)

	res, err := f.coord.Resolve(context.Background(), "video.mp4")
	require.NoError(t, err)
	require.Equal(t, OutcomeDisabled, res.Outcome)
	require.Empty(t, res.Identity)
	require.Zero(t, f.uploader.calls)
	require.Zero(t, f.fetcher.calls)
	require.Zero(t, f.cache.Len())
}

func TestCoordinator_Resolve_rejected_source(t *testing.T) {
	f := newCoordFixture(t)
	f.coord.assets = SourceReader{Root: t.TempDir()}

	_, err := f.coord.Resolve(context.Background(), "/etc/ssl/private/key.pem")
	require.ErrorIs(t, err, ErrSourceNotAllowed)
	require.NotErrorIs(t, err, ErrUploadFailed)
	require.Zero(t, f.uploader.calls)
	require.Zero(t, f.cache.Len())
}

func TestCoordinator_Resolve_stopped_queue(t *testing.T) {
	f := newCoordFixture(t)
	require.NoError(t, f.coord.queue.Stop(time.Second))

	_, err := f.coord.Resolve(context.Background(), "folder/video.mp4")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUploadFailed)
}

func TestCoordinator_Remember(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	inserted, err := f.coord.Remember(ctx, "https://cdn.example.com/lessons/intro.mp4")
	require.NoError(t, err)
	require.True(t, inserted)

	rec, ok := f.cache.Find("com.app.lessons/intro.mp4")
	require.True(t, ok)
	require.Equal(t, SourceURL, rec.Kind)
	require.Equal(t, "/lessons/intro.mp4", rec.Location)
	require.Equal(t, "intro.mp4", rec.OriginalReference)

	inserted, err = f.coord.Remember(ctx, "https://other.example.com/lessons/intro.mp4")
	require.NoError(t, err)
	require.False(t, inserted)

	inserted, err = f.coord.Remember(ctx, "intro.mp4")
	require.NoError(t, err)
	require.False(t, inserted)
}

func TestCoordinator_ResolveAsync(t *testing.T) {
	f := newCoordFixture(t)

	type result struct {
		res Resolution
		err error
	}
	done := make(chan result, 1)
	f.coord.ResolveAsync(context.Background(), "folder/video.mp4", func(res Resolution, err error) {
		done <- result{res, err}
	})

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, OutcomeMiss, r.res.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("completion was not delivered")
	}
}

func TestCoordinator_Prefetch(t *testing.T) {
	f := newCoordFixture(t)
	refs := []string{"a/1.mp4", "a/2.mp4", "b/3.mp4", "single.mp4"}

	require.NoError(t, f.coord.Prefetch(context.Background(), refs, 2))
	require.Equal(t, 3, f.cache.Len())
	require.Equal(t, 3, f.uploader.calls)
}

func TestCoordinator_Prefetch_joins_failures(t *testing.T) {
	f := newCoordFixture(t)
	f.uploader.err = errors.New("service unavailable")

	err := f.coord.Prefetch(context.Background(), []string{"a/1.mp4", "a/2.mp4"}, 0)
	require.ErrorIs(t, err, ErrUploadFailed)
	require.Contains(t, err.Error(), "a/1.mp4")
	require.Contains(t, err.Error(), "a/2.mp4")
}

func TestCoordinator_concurrent_resolves_keep_one_record(t *testing.T) {
	f := newCoordFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.coord.Resolve(context.Background(), "folder/video.mp4")
		}()
	}
	wg.Wait()

	require.Equal(t, 1, f.cache.Len())
	f.cache.WaitRegistrations()
	require.Equal(t, 1, f.reg.count())
}

package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"sign-overlay/internal/platform/metrics"
	"sign-overlay/internal/platform/serial"

	"golang.org/x/sync/errgroup"
)

// ErrUploadFailed is returned by Resolve when a cache miss could not be
// uploaded. It is the only resolution failure reported to callers.
var ErrUploadFailed = errors.New("source upload failed")

// Outcome describes which path a resolution took.
type Outcome string

const (
	OutcomeHit      Outcome = "hit"
	OutcomeMiss     Outcome = "miss"
	OutcomeDisabled Outcome = "disabled"
)

// Resolution is the result of resolving one source reference.
type Resolution struct {
	Identity Identity
	Outcome  Outcome
	Record   *Record
	Cues     []Cue
}

// Coordinator decides per video whether to fetch cues for a cached record or
// upload the source for first-time resolution. Cache reads and writes are
// funneled through the serial queue; network calls run on the caller's
// goroutine.
type Coordinator struct {
	namespace string
	cache     *CacheStore
	uploader  Uploader
	fetcher   CueFetcher
	assets    AssetReader
	queue     *serial.Queue
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// CoordinatorDeps groups the collaborators of a Coordinator.
type CoordinatorDeps struct {
	Namespace string
	Cache     *CacheStore
	Uploader  Uploader
	Fetcher   CueFetcher
	Assets    AssetReader
	Queue     *serial.Queue
	Log       *slog.Logger
	Metrics   *metrics.Metrics
}

// NewCoordinator returns a Coordinator. Assets defaults to a zero
// SourceReader, which rejects every source.
func NewCoordinator(d CoordinatorDeps) *Coordinator {
	if d.Assets == nil {
		d.Assets = SourceReader{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Coordinator{
		namespace: d.Namespace,
		cache:     d.Cache,
		uploader:  d.Uploader,
		fetcher:   d.Fetcher,
		assets:    d.Assets,
		queue:     d.Queue,
		log:       d.Log,
		metrics:   d.Metrics,
	}
}

// Identity computes the cache key of reference in the coordinator's namespace.
func (c *Coordinator) Identity(reference string) Identity {
	return ComputeIdentity(c.namespace, reference)
}

// Resolve produces the cue list for reference.
//
// On a cache hit the cues are fetched for the stored location; a fetch
// failure is logged and the cached cues (possibly none) are returned. The
// fetched set is offered to the cache, which keeps its first record.
// On a miss the source is uploaded and a new record is cached; an upload
// failure is returned wrapped in ErrUploadFailed and nothing is cached. A
// source the asset reader refuses yields ErrSourceNotAllowed.
// References without an identity bypass the cache and resolve to no cues.
func (c *Coordinator) Resolve(ctx context.Context, reference string) (Resolution, error) {
	id := c.Identity(reference)
	if id == "" {
		c.log.Debug("reference has no identity, cache disabled", slog.String("reference", reference))
		return Resolution{Outcome: OutcomeDisabled}, nil
	}

	var (
		rec Record
		hit bool
	)
	if err := c.queue.Do(ctx, func() { rec, hit = c.cache.Find(id) }); err != nil {
		return Resolution{}, err
	}
	c.metrics.CacheLookup(hit)

	if hit {
		return c.resolveHit(ctx, rec), nil
	}
	return c.resolveMiss(ctx, id, reference)
}

func (c *Coordinator) resolveHit(ctx context.Context, rec Record) Resolution {
	res := Resolution{Identity: rec.Identity, Outcome: OutcomeHit, Record: &rec, Cues: rec.Cues()}

	cs, err := c.fetcher.FetchCues(ctx, rec.Identity, rec.Location)
	if err != nil {
		c.metrics.IncFetchFailures()
		c.log.Warn("cue fetch failed",
			slog.String("identity", string(rec.Identity)),
			slog.String("error", err.Error()))
		return res
	}

	enriched := rec.WithCueSet(cs)
	if err := c.queue.Do(ctx, func() { c.cache.Upsert(ctx, enriched) }); err != nil {
		c.log.Warn("cache update skipped", slog.String("identity", string(rec.Identity)), slog.String("error", err.Error()))
	}
	if cs != nil {
		res.Cues = cs.Cues
	}
	return res
}

func (c *Coordinator) resolveMiss(ctx context.Context, id Identity, reference string) (Resolution, error) {
	asset, err := c.assets.ReadAsset(ctx, reference)
	if errors.Is(err, ErrSourceNotAllowed) {
		c.log.Warn("source reference rejected", slog.String("reference", reference), slog.String("error", err.Error()))
		return Resolution{}, err
	}
	if err != nil {
		c.metrics.Upload(err)
		return Resolution{}, fmt.Errorf("%w: read %s: %w", ErrUploadFailed, reference, err)
	}

	path, err := c.uploader.Upload(ctx, asset, leafName(reference))
	c.metrics.Upload(err)
	if err != nil {
		c.log.Error("source upload failed",
			slog.String("identity", string(id)),
			slog.String("error", err.Error()))
		return Resolution{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	rec := Record{
		Kind:              SourceFile,
		Location:          path,
		OriginalReference: reference,
		Identity:          id,
	}
	if err := c.queue.Do(ctx, func() { c.cache.Upsert(ctx, rec) }); err != nil {
		return Resolution{}, err
	}
	c.log.Info("source uploaded", slog.String("identity", string(id)), slog.String("path", path))
	return Resolution{Identity: id, Outcome: OutcomeMiss, Record: &rec}, nil
}

// ResolveAsync runs Resolve in the background and delivers the result to done
// on the coordinating queue.
func (c *Coordinator) ResolveAsync(ctx context.Context, reference string, done func(Resolution, error)) {
	go func() {
		res, err := c.Resolve(ctx, reference)
		if perr := c.queue.Post(func() { done(res, err) }); perr != nil {
			c.log.Warn("resolution result dropped", slog.String("reference", reference), slog.String("error", perr.Error()))
		}
	}()
}

// Remember caches a URL-kind record for reference without contacting the
// remote service. Like every insertion it is ignored when the identity is
// already cached.
func (c *Coordinator) Remember(ctx context.Context, reference string) (bool, error) {
	id := c.Identity(reference)
	if id == "" {
		return false, nil
	}
	rec := Record{
		Kind:              SourceURL,
		Location:          referencePath(reference),
		OriginalReference: leafName(reference),
		Identity:          id,
	}
	var inserted bool
	err := c.queue.Do(ctx, func() { inserted = c.cache.Upsert(ctx, rec) })
	return inserted, err
}

// Prefetch resolves references with at most limit in flight. Failures are
// logged and returned joined; one failure does not stop the others.
func (c *Coordinator) Prefetch(ctx context.Context, references []string, limit int) error {
	if limit <= 0 {
		limit = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(limit)
	for _, ref := range references {
		ref := ref
		g.Go(func() error {
			res, err := c.Resolve(ctx, ref)
			if err != nil {
				c.log.Warn("prefetch failed", slog.String("reference", ref), slog.String("error", err.Error()))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", ref, err))
				mu.Unlock()
				return nil
			}
			c.log.Info("prefetched",
				slog.String("reference", ref),
				slog.String("outcome", string(res.Outcome)),
				slog.Int("cues", len(res.Cues)))
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

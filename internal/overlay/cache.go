package overlay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"sign-overlay/internal/platform/metrics"
)

// DefaultBlobKey is the blob store key holding the cache snapshot.
const DefaultBlobKey = "SignCacheStorage"

const registrationTimeout = 30 * time.Second

// persistTimeout bounds a snapshot write. The write outlives the caller's
// cancellation so the blob never lags the in-memory records.
const persistTimeout = 10 * time.Second

// CacheStore is the in-memory index of cache records, mirrored to a BlobStore
// as a full snapshot after every mutation. At most one record exists per
// identity; the first insertion wins and later ones are ignored.
type CacheStore struct {
	mu      sync.RWMutex
	records []Record

	blobs     BlobStore
	key       string
	registrar Registrar
	log       *slog.Logger
	metrics   *metrics.Metrics

	registrations sync.WaitGroup
}

// CacheOption configures a CacheStore.
type CacheOption func(*CacheStore)

// WithBlobKey overrides DefaultBlobKey.
func WithBlobKey(key string) CacheOption {
	return func(c *CacheStore) { c.key = key }
}

// WithRegistrar sets the registrar notified after each insertion.
func WithRegistrar(r Registrar) CacheOption {
	return func(c *CacheStore) { c.registrar = r }
}

// WithCacheMetrics records cache size on m.
func WithCacheMetrics(m *metrics.Metrics) CacheOption {
	return func(c *CacheStore) { c.metrics = m }
}

// NewCacheStore returns an empty store backed by blobs. Call Load to hydrate it.
func NewCacheStore(blobs BlobStore, log *slog.Logger, opts ...CacheOption) *CacheStore {
	c := &CacheStore{blobs: blobs, key: DefaultBlobKey, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load replaces the in-memory index with the durable snapshot. Missing or
// malformed data leaves the index empty; no error is returned.
func (c *CacheStore) Load(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = nil
	data, ok, err := c.blobs.LoadBlob(ctx, c.key)
	switch {
	case err != nil:
		c.log.Warn("cache snapshot load failed", slog.String("error", err.Error()))
	case !ok:
		c.log.Debug("no cache snapshot stored")
	default:
		var records []Record
		if err := json.Unmarshal(data, &records); err != nil {
			c.log.Warn("cache snapshot malformed, starting empty", slog.String("error", err.Error()))
			break
		}
		c.records = records
		c.log.Info("cache loaded", slog.Int("records", len(records)))
	}
	c.metrics.SetCacheRecords(len(c.records))
}

// Find returns the record stored for identity.
func (c *CacheStore) Find(identity Identity) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.records {
		if r.Identity == identity {
			return r, true
		}
	}
	return Record{}, false
}

// Upsert inserts rec when no record exists for rec.Identity and reports
// whether it did. An existing record is never modified, even when rec carries
// more data. A successful insertion persists the whole index and starts a
// detached bundle registration.
func (c *CacheStore) Upsert(ctx context.Context, rec Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.records {
		if r.Identity == rec.Identity {
			c.log.Debug("cache record already exists", slog.String("identity", string(rec.Identity)))
			return false
		}
	}

	c.records = append(c.records, rec)
	c.persistLocked(ctx)
	c.registerAsync(rec)
	return true
}

// Delete removes the record for identity if present and persists the rest.
func (c *CacheStore) Delete(ctx context.Context, identity Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.records[:0]
	removed := false
	for _, r := range c.records {
		if r.Identity == identity {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	c.records = kept
	c.persistLocked(ctx)
	return removed
}

// Clear removes every record and persists the empty index.
func (c *CacheStore) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = nil
	c.persistLocked(ctx)
}

// List returns a copy of all records in insertion order.
func (c *CacheStore) List() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Len returns the number of records.
func (c *CacheStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// WaitRegistrations blocks until every started registration has returned.
func (c *CacheStore) WaitRegistrations() {
	c.registrations.Wait()
}

// persistLocked writes the full snapshot. Caller must hold c.mu in write mode.
func (c *CacheStore) persistLocked(ctx context.Context) {
	c.metrics.SetCacheRecords(len(c.records))

	records := c.records
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		c.log.Error("cache snapshot encode failed", slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.blobs.SaveBlob(ctx, c.key, data); err != nil {
		c.log.Error("cache snapshot save failed", slog.String("error", err.Error()))
	}
}

func (c *CacheStore) registerAsync(rec Record) {
	if c.registrar == nil {
		return
	}
	c.registrations.Add(1)
	go func() {
		defer c.registrations.Done()
		ctx, cancel := context.WithTimeout(context.Background(), registrationTimeout)
		defer cancel()

		err := c.registrar.RegisterBundle(ctx, rec.Identity, rec.Location)
		c.metrics.Registration(err)
		if err != nil {
			c.log.Warn("bundle registration failed",
				slog.String("identity", string(rec.Identity)),
				slog.String("error", err.Error()))
			return
		}
		c.log.Debug("bundle registered", slog.String("identity", string(rec.Identity)))
	}()
}

package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/Mashup/internal/store"
)

// ErrUnreadable reports that the persisted dataset could not be read, so an
// operation that depends on it was refused.
var ErrUnreadable = errors.New("persisted results unreadable")

// CorruptSuffix is appended to the key an undecodable dataset is copied to
// before it is replaced.
const CorruptSuffix = ".corrupt"

// Observer receives cache outcomes; it must be safe for concurrent use.
type Observer interface {
	Inserted(dataset string)
	Deduplicated(dataset string)
	PersistFailed(dataset string)
}

type nopObserver struct{}

func (nopObserver) Inserted(string)      {}
func (nopObserver) Deduplicated(string)  {}
func (nopObserver) PersistFailed(string) {}

// Cache is an append-only, content-addressed store of scoring results
// persisted as one JSON array under a single KV key. It loads lazily on first
// access and rewrites the key after every mutation. Persistence failures are
// logged; the in-memory copy stays authoritative.
//
// The key is never written until it has been read. While the stored dataset
// cannot be read, inserts are held in memory and merged into it on the next
// successful load.
type Cache struct {
	key      string
	kv       store.KV
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu     sync.Mutex
	loaded bool
	// dirty is set while memory holds records the key does not.
	dirty   bool
	records []Record
	index   map[string]struct{}
}

type Option func(*Cache)

func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(kv store.KV, key string, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		key:      key,
		kv:       kv,
		logger:   logger,
		observer: nopObserver{},
		now:      time.Now,
		index:    make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Dataset is the KV key the cache persists under.
func (c *Cache) Dataset() string { return c.key }

// Insert fingerprints r and appends it unless a record with the same
// fingerprint exists. It returns the fingerprint and whether r was added.
func (c *Cache) Insert(ctx context.Context, r Record) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load(ctx)

	fp, added := c.insertLocked(r)
	if added || c.dirty {
		c.save(ctx)
	}
	return fp, added
}

// Insertion reports the outcome of inserting one record.
type Insertion struct {
	Fingerprint string
	Added       bool
}

// InsertMany applies Insert to each record independently and persists once.
// Outcomes are returned in input order.
func (c *Cache) InsertMany(ctx context.Context, rs []Record) []Insertion {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load(ctx)

	out := make([]Insertion, len(rs))
	added := false
	for i, r := range rs {
		fp, ok := c.insertLocked(r)
		out[i] = Insertion{Fingerprint: fp, Added: ok}
		added = added || ok
	}
	if added || c.dirty {
		c.save(ctx)
	}
	return out
}

// Added counts the insertions that added a record.
func Added(ins []Insertion) int {
	n := 0
	for _, in := range ins {
		if in.Added {
			n++
		}
	}
	return n
}

func (c *Cache) insertLocked(r Record) (string, bool) {
	fp := Fingerprint(r)
	if _, dup := c.index[fp]; dup {
		c.observer.Deduplicated(c.key)
		return fp, false
	}
	r.Fingerprint = fp
	if r.CreatedAt.IsZero() {
		r.CreatedAt = c.now().UTC()
	}
	r.Analytes = append(r.Analytes[:0:0], r.Analytes...)
	c.records = append(c.records, r)
	c.index[fp] = struct{}{}
	c.observer.Inserted(c.key)
	return fp, true
}

// All returns every record in insertion order.
func (c *Cache) All(ctx context.Context) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load(ctx)
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// FilterByContext returns the records for one (site, bmp). An empty bmp
// matches every bmp at the site.
func (c *Cache) FilterByContext(ctx context.Context, site, bmp string) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load(ctx)
	var out []Record
	for _, r := range c.records {
		if matches(r, site, bmp) {
			out = append(out, r)
		}
	}
	return out
}

func (c *Cache) Len(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load(ctx)
	return len(c.records)
}

// ClearContext removes the records whose site and bmp both match. It
// returns how many were removed. It fails with ErrUnreadable when the
// stored dataset cannot be read.
func (c *Cache) ClearContext(ctx context.Context, site, bmp string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	kept := c.records[:0:0]
	for _, r := range c.records {
		if r.Site == site && r.BMP == bmp {
			delete(c.index, r.Fingerprint)
			continue
		}
		kept = append(kept, r)
	}
	removed := len(c.records) - len(kept)
	c.records = kept
	if removed > 0 || c.dirty {
		c.save(ctx)
	}
	return removed, nil
}

// ClearAll removes every record and returns how many there were.
func (c *Cache) ClearAll(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load(ctx)

	removed := len(c.records)
	// Clearing replaces whatever is stored, read or not.
	c.loaded = true
	c.records = nil
	c.index = make(map[string]struct{})
	c.save(ctx)
	return removed
}

// Invalidate drops the in-memory copy so the next access reloads the key.
// Records not yet persisted are kept and merged into the reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	if c.dirty {
		return
	}
	c.records = nil
	c.index = make(map[string]struct{})
}

func matches(r Record, site, bmp string) bool {
	if r.Site != site {
		return false
	}
	return bmp == "" || r.BMP == bmp
}

// load must be called with mu held. On failure the cache stays unloaded and
// the next access retries.
func (c *Cache) load(ctx context.Context) error {
	if c.loaded {
		return nil
	}

	data, err := c.kv.Get(ctx, c.key)
	if err != nil {
		c.logger.Error("failed to load result cache", "dataset", c.key, "error", err)
		return fmt.Errorf("load %s: %w", c.key, err)
	}
	var stored []Record
	if data != nil {
		if err := json.Unmarshal(data, &stored); err != nil {
			if qerr := c.kv.Put(ctx, c.key+CorruptSuffix, data); qerr != nil {
				c.logger.Error("failed to set aside corrupt result cache", "dataset", c.key, "error", qerr)
				return fmt.Errorf("decode %s: %w", c.key, err)
			}
			c.logger.Error("result cache corrupt, starting empty", "dataset", c.key,
				"moved_to", c.key+CorruptSuffix, "error", err)
			stored = nil
			c.dirty = true
		}
	}

	pending := c.records
	c.records = nil
	c.index = make(map[string]struct{}, len(stored)+len(pending))
	for _, r := range stored {
		// Recompute rather than trust the stored value.
		fp := Fingerprint(r)
		if _, dup := c.index[fp]; dup {
			continue
		}
		r.Fingerprint = fp
		c.records = append(c.records, r)
		c.index[fp] = struct{}{}
	}
	for _, r := range pending {
		if _, dup := c.index[r.Fingerprint]; dup {
			continue
		}
		c.records = append(c.records, r)
		c.index[r.Fingerprint] = struct{}{}
		c.dirty = true
	}
	c.loaded = true
	c.logger.Debug("result cache loaded", "dataset", c.key, "records", len(c.records))
	return nil
}

// save must be called with mu held. It retries an outstanding load and
// refuses to write a key that has not been read.
func (c *Cache) save(ctx context.Context) {
	if !c.loaded {
		if err := c.load(ctx); err != nil {
			c.dirty = true
			c.observer.PersistFailed(c.key)
			c.logger.Warn("result cache not persisted, stored dataset unread", "dataset", c.key)
			return
		}
	}
	records := c.records
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		c.dirty = true
		c.observer.PersistFailed(c.key)
		c.logger.Error("failed to encode result cache", "dataset", c.key, "error", err)
		return
	}
	if err := c.kv.Put(ctx, c.key, data); err != nil {
		c.dirty = true
		c.observer.PersistFailed(c.key)
		c.logger.Error("failed to persist result cache", "dataset", c.key, "error", err)
		return
	}
	c.dirty = false
}

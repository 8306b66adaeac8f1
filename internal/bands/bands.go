package bands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/MikeSquared-Agency/Mashup/internal/store"
)

var (
	ErrIndexOutOfRange = errors.New("band index out of range")
	ErrInvalidBand     = errors.New("invalid threshold band")
	ErrUnreadable      = errors.New("persisted threshold bands unreadable")
)

// CorruptSuffix is appended to the key an undecodable configuration is
// copied to before it is replaced.
const CorruptSuffix = ".corrupt"

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Band is one threshold percentile of the multi-threshold comparison and the
// color it is plotted in. Duplicate percentiles are allowed.
type Band struct {
	Percentile float64 `json:"percentile"`
	PlotColor  string  `json:"plotcolor"`
}

func (b Band) Validate() error {
	if b.Percentile < 0 || b.Percentile > 1 {
		return fmt.Errorf("%w: percentile %v outside [0, 1]", ErrInvalidBand, b.Percentile)
	}
	if !hexColor.MatchString(b.PlotColor) {
		return fmt.Errorf("%w: color %q is not #rrggbb", ErrInvalidBand, b.PlotColor)
	}
	return nil
}

// Defaults returns the factory band configuration.
func Defaults() []Band {
	return []Band{
		{Percentile: 0.1, PlotColor: "#1705e3"},
		{Percentile: 0.25, PlotColor: "#0595e3"},
		{Percentile: 0.5, PlotColor: "#05e374"},
		{Percentile: 0.75, PlotColor: "#34ad34"},
		{Percentile: 0.9, PlotColor: "#9934ad"},
	}
}

// Store persists the band configuration under store.KeyThresholdBands.
type Store struct {
	kv     store.KV
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	bands  []Band
}

func NewStore(kv store.KV, logger *slog.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// List returns the configured bands, or the defaults while the persisted
// configuration cannot be read.
func (s *Store) List(ctx context.Context) []Band {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return Defaults()
	}
	return append([]Band(nil), s.bands...)
}

// Update replaces the band at index.
func (s *Store) Update(ctx context.Context, index int, b Band) ([]Band, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if index < 0 || index >= len(s.bands) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	s.bands[index] = b
	s.save(ctx)
	return append([]Band(nil), s.bands...), nil
}

// Replace swaps in a whole configuration.
func (s *Store) Replace(ctx context.Context, bs []Band) ([]Band, error) {
	for i, b := range bs {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("band %d: %w", i, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	s.bands = append([]Band(nil), bs...)
	s.save(ctx)
	return append([]Band(nil), s.bands...), nil
}

// Reset drops the persisted configuration and reverts to Defaults.
func (s *Store) Reset(ctx context.Context) []Band {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	s.bands = Defaults()
	if err := s.kv.Delete(ctx, store.KeyThresholdBands); err != nil {
		s.logger.Error("failed to delete threshold bands", "error", err)
	}
	return append([]Band(nil), s.bands...)
}

// Invalidate makes the next access reload the persisted configuration.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
}

// load must be called with mu held. A failed read leaves the store unloaded
// so the next access retries.
func (s *Store) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	data, err := s.kv.Get(ctx, store.KeyThresholdBands)
	if err != nil {
		s.logger.Error("failed to load threshold bands", "error", err)
		return err
	}
	s.bands = Defaults()
	if data != nil {
		var bs []Band
		if err := json.Unmarshal(data, &bs); err != nil {
			if qerr := s.kv.Put(ctx, store.KeyThresholdBands+CorruptSuffix, data); qerr != nil {
				s.logger.Error("failed to set aside corrupt threshold bands", "error", qerr)
				return err
			}
			s.logger.Error("threshold bands corrupt, using defaults",
				"moved_to", store.KeyThresholdBands+CorruptSuffix, "error", err)
		} else {
			s.bands = bs
		}
	}
	s.loaded = true
	return nil
}

func (s *Store) save(ctx context.Context) {
	data, err := json.Marshal(s.bands)
	if err != nil {
		s.logger.Error("failed to encode threshold bands", "error", err)
		return
	}
	if err := s.kv.Put(ctx, store.KeyThresholdBands, data); err != nil {
		s.logger.Error("failed to persist threshold bands", "error", err)
	}
}

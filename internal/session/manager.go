package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Mashup/internal/analyte"
	"github.com/MikeSquared-Agency/Mashup/internal/bands"
	"github.com/MikeSquared-Agency/Mashup/internal/hermes"
	"github.com/MikeSquared-Agency/Mashup/internal/lookup"
	"github.com/MikeSquared-Agency/Mashup/internal/resultcache"
	"github.com/MikeSquared-Agency/Mashup/internal/scoring"
	"github.com/MikeSquared-Agency/Mashup/internal/threshold"
)

var ErrNotFound = errors.New("session not found")

// Observer receives engine level counts. metrics.Metrics implements it.
type Observer interface {
	threshold.Observer
	Submission(outcome, mode string)
	SessionOpened()
	SessionClosed()
}

type nopObserver struct{}

func (nopObserver) LookupIssued(threshold.Authority) {}
func (nopObserver) LookupStale()                     {}
func (nopObserver) LookupFailed()                    {}
func (nopObserver) Submission(string, string)        {}
func (nopObserver) SessionOpened()                   {}
func (nopObserver) SessionClosed()                   {}

// Config holds the engine settings that apply to every session.
type Config struct {
	DefaultPercentile float64
	DefaultMode       analyte.Mode
	LookupTimeout     time.Duration
}

// Deps are the collaborators shared by every session. Events and Observer
// may be nil.
type Deps struct {
	Lookup     lookup.Client
	Scorer     scoring.Client
	IndexCache *resultcache.Cache
	BandCache  *resultcache.Cache
	BandConfig *bands.Store
	Events     hermes.Client
	Observer   Observer
}

// Manager owns the open editing sessions, one per user context.
type Manager struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	// base scopes background lookups to the process lifetime.
	base context.Context
	// origin tags published events so this process skips its own.
	origin string

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(ctx context.Context, cfg Config, deps Deps, logger *slog.Logger) *Manager {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = analyte.ModeStrict
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 10 * time.Second
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	m := &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		base:     ctx,
		origin:   uuid.New().String(),
		sessions: make(map[string]*Session),
	}
	m.followPeers()
	return m
}

// followPeers reloads the shared datasets when another process sharing the
// store changes them, so this process never writes over their records.
func (m *Manager) followPeers() {
	if m.deps.Events == nil {
		return
	}
	subs := map[string]func([]byte){
		hermes.SubjectResultRecordedAll: func(data []byte) {
			var ev hermes.ResultRecordedEvent
			if err := json.Unmarshal(data, &ev); err == nil && ev.Origin != m.origin {
				m.invalidateDataset(ev.Dataset)
			}
		},
		hermes.SubjectResultsCleared: func(data []byte) {
			var ev hermes.ResultsClearedEvent
			if err := json.Unmarshal(data, &ev); err == nil && ev.Origin != m.origin {
				m.invalidateDataset(ev.Dataset)
			}
		},
		hermes.SubjectBandsUpdated: func(data []byte) {
			var ev hermes.BandsUpdatedEvent
			if err := json.Unmarshal(data, &ev); err == nil && ev.Origin != m.origin {
				m.deps.BandConfig.Invalidate()
			}
		},
	}
	for subject, handle := range subs {
		handle := handle
		if err := m.deps.Events.Subscribe(subject, func(_ string, data []byte) { handle(data) }); err != nil {
			m.logger.Warn("failed to subscribe", "subject", subject, "error", err)
		}
	}
}

func (m *Manager) invalidateDataset(dataset string) {
	for _, c := range []*resultcache.Cache{m.deps.IndexCache, m.deps.BandCache} {
		if c.Dataset() == dataset {
			c.Invalidate()
			m.logger.Debug("dataset changed by peer, reloading", "dataset", dataset)
		}
	}
}

// Open loads the analyte catalog for (site, bmp) and starts a session with
// every analyte active, ranked in catalog order, and its threshold seeded
// from the default percentile. An empty mode selects the configured default.
func (m *Manager) Open(ctx context.Context, site, bmp string, mode analyte.Mode) (*Session, error) {
	if site == "" || bmp == "" {
		return nil, errors.New("sitename and bmpname are required")
	}
	if mode == "" {
		mode = m.cfg.DefaultMode
	}

	catalog, err := m.deps.Lookup.ListAnalytes(ctx, site, bmp)
	if err != nil {
		return nil, fmt.Errorf("list analytes: %w", err)
	}

	names := make([]string, 0, len(catalog))
	units := make(map[string]string, len(catalog))
	for _, d := range catalog {
		if _, dup := units[d.Name]; dup {
			continue
		}
		names = append(names, d.Name)
		units[d.Name] = d.Unit
	}

	s := &Session{
		ID:        uuid.New().String(),
		Site:      site,
		BMP:       bmp,
		CreatedAt: time.Now().UTC(),
		mgr:       m,
		units:     units,
		ranks:     analyte.NewRankSet(names, mode),
		thresholds: threshold.NewSynchronizer(m.base, site, bmp, names, m.deps.Lookup, m.logger,
			threshold.WithTimeout(m.cfg.LookupTimeout),
			threshold.WithObserver(m.deps.Observer),
		),
		submission: SubmissionState{Status: StatusIdle},
	}
	s.touch(s.CreatedAt)
	if err := s.thresholds.SetAllPercentiles(m.cfg.DefaultPercentile); err != nil {
		return nil, fmt.Errorf("seed thresholds: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.deps.Observer.SessionOpened()

	m.logger.Info("session opened", "session_id", s.ID, "site", site, "bmp", bmp,
		"analytes", len(names), "mode", mode)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.touch(time.Now())
	return s, nil
}

// Close discards a session. Its in-flight lookups finish in the background
// and are ignored.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.deps.Observer.SessionClosed()
	m.logger.Info("session closed", "session_id", id)
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Wait blocks until every open session's lookups have returned.
func (m *Manager) Wait() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	for _, s := range sessions {
		s.thresholds.Wait()
	}
}

// Results returns the cache for the single-threshold or the multi-band
// dataset.
func (m *Manager) Results(multiBand bool) *resultcache.Cache {
	if multiBand {
		return m.deps.BandCache
	}
	return m.deps.IndexCache
}

// ClearResults removes the records of one context from a dataset.
func (m *Manager) ClearResults(ctx context.Context, multiBand bool, site, bmp string) (int, error) {
	c := m.Results(multiBand)
	n, err := c.ClearContext(ctx, site, bmp)
	if err != nil {
		return 0, err
	}
	m.publish(hermes.SubjectResultsCleared, hermes.ResultsClearedEvent{
		Origin: m.origin, Dataset: c.Dataset(), Site: site, BMP: bmp, Removed: n,
	})
	return n, nil
}

// ClearAllResults empties a dataset.
func (m *Manager) ClearAllResults(ctx context.Context, multiBand bool) int {
	c := m.Results(multiBand)
	n := c.ClearAll(ctx)
	m.publish(hermes.SubjectResultsCleared, hermes.ResultsClearedEvent{Origin: m.origin, Dataset: c.Dataset(), Removed: n})
	return n
}

func (m *Manager) Bands(ctx context.Context) []bands.Band {
	return m.deps.BandConfig.List(ctx)
}

func (m *Manager) UpdateBand(ctx context.Context, index int, b bands.Band) ([]bands.Band, error) {
	bs, err := m.deps.BandConfig.Update(ctx, index, b)
	if err != nil {
		return nil, err
	}
	m.publish(hermes.SubjectBandsUpdated, hermes.BandsUpdatedEvent{Origin: m.origin, Count: len(bs)})
	return bs, nil
}

func (m *Manager) ReplaceBands(ctx context.Context, bs []bands.Band) ([]bands.Band, error) {
	out, err := m.deps.BandConfig.Replace(ctx, bs)
	if err != nil {
		return nil, err
	}
	m.publish(hermes.SubjectBandsUpdated, hermes.BandsUpdatedEvent{Origin: m.origin, Count: len(out)})
	return out, nil
}

func (m *Manager) ResetBands(ctx context.Context) []bands.Band {
	bs := m.deps.BandConfig.Reset(ctx)
	m.publish(hermes.SubjectBandsUpdated, hermes.BandsUpdatedEvent{Origin: m.origin, Count: len(bs), Reset: true})
	return bs
}

func (m *Manager) publish(subject string, ev interface{}) {
	if m.deps.Events == nil {
		return
	}
	if err := m.deps.Events.Publish(subject, ev); err != nil {
		m.logger.Warn("failed to publish event", "subject", subject, "error", err)
	}
}

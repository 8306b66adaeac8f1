package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reaper closes sessions that have not been touched for longer than ttl.
type Reaper struct {
	mgr      *Manager
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewReaper(m *Manager, ttl, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		mgr:      m,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.mgr.Sweep(now, r.ttl); n > 0 {
				r.logger.Info("closed idle sessions", "count", n, "ttl", r.ttl)
			}
		}
	}
}

// Sweep closes sessions idle since before now-ttl and returns how many were
// closed. Sessions with a submission in flight are kept.
func (m *Manager) Sweep(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)

	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		if s.lastUsed().Before(cutoff) && !s.busy() {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	closed := 0
	for _, id := range idle {
		if err := m.Close(id); err == nil {
			closed++
		}
	}
	return closed
}

package threshold

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrUnknownAnalyte  = errors.New("unknown analyte")
	ErrPercentileRange = errors.New("percentile must be within [0, 1]")
)

// Lookup converts between the percentile and value domains of one analyte's
// historical distribution. Both directions are monotonic and approximately
// inverse to each other.
type Lookup interface {
	ValueForPercentile(ctx context.Context, site, bmp, analyte string, percentile float64) (float64, error)
	PercentileForValue(ctx context.Context, site, bmp, analyte string, value float64) (float64, error)
}

// Authority records which field the user edited last.
type Authority string

const (
	AuthorityNone       Authority = ""
	AuthorityPercentile Authority = "percentile"
	AuthorityValue      Authority = "value"
)

// Status is the lookup state of an item, suitable for driving a busy
// indicator.
type Status string

const (
	StatusSettled Status = "settled"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Observer receives lookup outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	LookupIssued(direction Authority)
	LookupStale()
	LookupFailed()
}

type nopObserver struct{}

func (nopObserver) LookupIssued(Authority) {}
func (nopObserver) LookupStale()           {}
func (nopObserver) LookupFailed()          {}

// State is a point-in-time view of one analyte's threshold.
type State struct {
	Name       string    `json:"analytename"`
	Value      float64   `json:"threshold_value"`
	Percentile float64   `json:"threshold_percentile"`
	Authority  Authority `json:"authority,omitempty"`
	Status     Status    `json:"status"`
	Seq        uint64    `json:"seq"`
	LastError  string    `json:"last_error,omitempty"`
}

// DisplayValue is Value rounded for presentation.
func (s State) DisplayValue() float64 { return Round(s.Value) }

// DisplayPercentile is Percentile rounded for presentation.
func (s State) DisplayPercentile() float64 { return Round(s.Percentile) }

type entry struct {
	value      float64
	percentile float64
	authority  Authority
	status     Status
	seq        uint64
	lastErr    error
}

// Synchronizer keeps each analyte's (value, percentile) pair consistent
// through a remote Lookup. Every edit issues an asynchronous conversion
// tagged with a per-item sequence number; only the response matching the
// latest sequence is applied, and it only ever writes the field the user did
// not edit.
type Synchronizer struct {
	site, bmp string
	lookup    Lookup
	timeout   time.Duration
	observer  Observer
	logger    *slog.Logger

	// base outlives individual HTTP requests so a lookup keeps running after
	// the edit call returns.
	base context.Context

	mu    sync.Mutex
	items map[string]*entry
	// inflight counts issued lookups that have not returned; idle is
	// broadcast on mu when it drops to zero.
	inflight int
	idle     *sync.Cond
}

type Option func(*Synchronizer)

func WithTimeout(d time.Duration) Option {
	return func(s *Synchronizer) { s.timeout = d }
}

func WithObserver(o Observer) Option {
	return func(s *Synchronizer) { s.observer = o }
}

func NewSynchronizer(ctx context.Context, site, bmp string, names []string, lookup Lookup, logger *slog.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		site:     site,
		bmp:      bmp,
		lookup:   lookup,
		timeout:  10 * time.Second,
		observer: nopObserver{},
		logger:   logger,
		base:     ctx,
		items:    make(map[string]*entry, len(names)),
	}
	s.idle = sync.NewCond(&s.mu)
	for _, o := range opts {
		o(s)
	}
	for _, n := range names {
		s.items[n] = &entry{status: StatusSettled}
	}
	return s
}

// EditPercentile records a user edit of the percentile field and requests
// the matching value.
func (s *Synchronizer) EditPercentile(name string, p float64) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("%w: got %v", ErrPercentileRange, p)
	}
	s.mu.Lock()
	e, ok := s.items[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAnalyte, name)
	}
	e.percentile = p
	seq := s.mark(e, AuthorityPercentile)
	s.mu.Unlock()

	s.issue(name, seq, AuthorityPercentile, p)
	return nil
}

// EditValue records a user edit of the value field and requests the matching
// percentile.
func (s *Synchronizer) EditValue(name string, v float64) error {
	s.mu.Lock()
	e, ok := s.items[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAnalyte, name)
	}
	e.value = v
	seq := s.mark(e, AuthorityValue)
	s.mu.Unlock()

	s.issue(name, seq, AuthorityValue, v)
	return nil
}

// SetAllPercentiles applies the percentile edit path to every analyte. Each
// conversion resolves on its own, in any order.
func (s *Synchronizer) SetAllPercentiles(p float64) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("%w: got %v", ErrPercentileRange, p)
	}
	for _, n := range s.names() {
		if err := s.EditPercentile(n, p); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the current state of one analyte.
func (s *Synchronizer) Get(name string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[name]
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownAnalyte, name)
	}
	return e.state(name), nil
}

// States returns every analyte's state sorted by name.
func (s *Synchronizer) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, 0, len(s.items))
	for n, e := range s.items {
		out = append(out, e.state(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Pending reports whether any lookup is still outstanding.
func (s *Synchronizer) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.items {
		if e.status == StatusPending {
			return true
		}
	}
	return false
}

// Wait blocks until every issued lookup has returned. Edits made while it
// waits extend the wait.
func (s *Synchronizer) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.inflight > 0 {
		s.idle.Wait()
	}
}

func (s *Synchronizer) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.items))
	for n := range s.items {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// mark must be called with mu held.
func (s *Synchronizer) mark(e *entry, a Authority) uint64 {
	e.authority = a
	e.seq++
	e.status = StatusPending
	s.inflight++
	return e.seq
}

func (s *Synchronizer) issue(name string, seq uint64, dir Authority, input float64) {
	s.observer.LookupIssued(dir)
	go func() {
		defer s.done()
		ctx, cancel := context.WithTimeout(s.base, s.timeout)
		defer cancel()

		var result float64
		var err error
		if dir == AuthorityPercentile {
			result, err = s.lookup.ValueForPercentile(ctx, s.site, s.bmp, name, input)
		} else {
			result, err = s.lookup.PercentileForValue(ctx, s.site, s.bmp, name, input)
		}
		s.resolve(name, seq, dir, result, err)
	}()
}

func (s *Synchronizer) done() {
	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 {
		s.idle.Broadcast()
	}
	s.mu.Unlock()
}

// resolve applies a lookup response. It reports whether the response was
// current.
func (s *Synchronizer) resolve(name string, seq uint64, dir Authority, result float64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[name]
	if !ok || seq != e.seq {
		s.observer.LookupStale()
		s.logger.Debug("discarding stale threshold lookup",
			"analyte", name, "seq", seq, "latest", e.seqOrZero())
		return false
	}

	if err != nil {
		e.status = StatusFailed
		e.lastErr = err
		e.authority = AuthorityNone
		s.observer.LookupFailed()
		s.logger.Warn("threshold lookup failed",
			"site", s.site, "bmp", s.bmp, "analyte", name, "direction", dir, "error", err)
		return true
	}

	// Write only the field the user did not edit.
	switch dir {
	case AuthorityPercentile:
		e.value = result
	case AuthorityValue:
		e.percentile = result
	}
	e.authority = AuthorityNone
	e.status = StatusSettled
	e.lastErr = nil
	return true
}

func (e *entry) seqOrZero() uint64 {
	if e == nil {
		return 0
	}
	return e.seq
}

func (e *entry) state(name string) State {
	st := State{
		Name:       name,
		Value:      e.value,
		Percentile: e.percentile,
		Authority:  e.authority,
		Status:     e.status,
		Seq:        e.seq,
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

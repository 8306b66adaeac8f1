package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MikeSquared-Agency/Mashup/internal/analyte"
	"github.com/MikeSquared-Agency/Mashup/internal/hermes"
	"github.com/MikeSquared-Agency/Mashup/internal/metrics"
	"github.com/MikeSquared-Agency/Mashup/internal/resultcache"
	"github.com/MikeSquared-Agency/Mashup/internal/scoring"
	"github.com/MikeSquared-Agency/Mashup/internal/threshold"
	"github.com/MikeSquared-Agency/Mashup/internal/validate"
)

var ErrSubmissionInFlight = errors.New("a submission is already in progress for this session")

// Status is the submission state of a session.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

type SubmissionState struct {
	Status    Status    `json:"status"`
	MultiBand bool      `json:"multi_band"`
	Recorded  int       `json:"recorded"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// AnalyteView is one analyte with its threshold lookup state.
type AnalyteView struct {
	analyte.Item
	Authority threshold.Authority `json:"authority,omitempty"`
	Status    threshold.Status    `json:"status"`
	LastError string              `json:"last_error,omitempty"`
}

// View is a point-in-time snapshot of a session.
type View struct {
	ID         string          `json:"id"`
	Site       string          `json:"sitename"`
	BMP        string          `json:"bmpname"`
	Mode       analyte.Mode    `json:"mode"`
	Analytes   []AnalyteView   `json:"analytes"`
	Submission SubmissionState `json:"submission"`
	CreatedAt  time.Time       `json:"created_at"`
}

type SubmitOptions struct {
	// Confirm accepts any validation warnings.
	Confirm   bool
	MultiBand bool
}

// Outcome is one scored record of a submission.
type Outcome struct {
	Fingerprint    string         `json:"fingerprint"`
	Added          bool           `json:"added"`
	BandPercentile *float64       `json:"band_percentile,omitempty"`
	Scores         scoring.Result `json:"scores"`
}

type SubmitResult struct {
	Dataset  string           `json:"dataset"`
	Outcomes []Outcome        `json:"outcomes"`
	Warnings []validate.Issue `json:"warnings,omitempty"`
}

// Session is the editing state of one (site, bmp) context: the rank set,
// the threshold pairs and the submission status.
type Session struct {
	ID        string
	Site      string
	BMP       string
	CreatedAt time.Time

	mgr   *Manager
	units map[string]string

	// touched is the unix-nano time of the last lookup through the manager.
	touched atomic.Int64

	// thresholds synchronizes on its own.
	thresholds *threshold.Synchronizer

	mu         sync.Mutex
	ranks      *analyte.RankSet
	submitting bool
	submission SubmissionState
}

func (s *Session) Activate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ranks.Activate(name)
}

func (s *Session) Deactivate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ranks.Deactivate(name)
}

func (s *Session) SetRank(name string, rank int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ranks.SetRank(name, rank)
}

func (s *Session) SetMode(mode analyte.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranks.SetMode(mode)
}

func (s *Session) EditPercentile(name string, p float64) error {
	return s.thresholds.EditPercentile(name, p)
}

func (s *Session) EditValue(name string, v float64) error {
	return s.thresholds.EditValue(name, v)
}

func (s *Session) SetAllPercentiles(p float64) error {
	return s.thresholds.SetAllPercentiles(p)
}

func (s *Session) touch(t time.Time) { s.touched.Store(t.UnixNano()) }

func (s *Session) lastUsed() time.Time { return time.Unix(0, s.touched.Load()) }

func (s *Session) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitting
}

// Wait blocks until the session's in-flight lookups have returned.
func (s *Session) Wait() { s.thresholds.Wait() }

// Items returns every analyte in catalog order with its current rank and
// threshold.
func (s *Session) Items() []analyte.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	views := s.viewsLocked()
	out := make([]analyte.Item, len(views))
	for i, v := range views {
		out[i] = v.Item
	}
	return out
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:         s.ID,
		Site:       s.Site,
		BMP:        s.BMP,
		Mode:       s.ranks.Mode(),
		Analytes:   s.viewsLocked(),
		Submission: s.submission,
		CreatedAt:  s.CreatedAt,
	}
}

func (s *Session) Submission() SubmissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submission
}

func (s *Session) viewsLocked() []AnalyteView {
	states := make(map[string]threshold.State)
	for _, st := range s.thresholds.States() {
		states[st.Name] = st
	}
	ranked := s.ranks.Items()
	out := make([]AnalyteView, len(ranked))
	for i, it := range ranked {
		st := states[it.Name]
		it.Unit = s.units[it.Name]
		it.ThresholdValue = st.Value
		it.ThresholdPercentile = st.Percentile
		out[i] = AnalyteView{Item: it, Authority: st.Authority, Status: st.Status, LastError: st.LastError}
	}
	return out
}

// Submit validates the current snapshot, sends it to the scoring service
// and caches the returned records. Edits may continue while the scoring
// call is outstanding; they do not affect the submitted snapshot.
func (s *Session) Submit(ctx context.Context, opts SubmitOptions) (*SubmitResult, error) {
	mode := "single"
	if opts.MultiBand {
		mode = "multi"
	}
	obs := s.mgr.deps.Observer

	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	views := s.viewsLocked()
	in := validate.Input{Site: s.Site, BMP: s.BMP, MultiBand: opts.MultiBand}
	for _, v := range views {
		in.Analytes = append(in.Analytes, v.Item)
		if v.IsActive && v.Status == threshold.StatusPending {
			in.Pending = append(in.Pending, v.Name)
		}
	}
	if opts.MultiBand {
		in.Bands = s.mgr.deps.BandConfig.List(ctx)
	}

	payload, err := validate.Accept(in, opts.Confirm)
	if err != nil {
		s.mu.Unlock()
		var conf *validate.ConfirmationError
		if errors.As(err, &conf) {
			obs.Submission(metrics.OutcomeNeedsConfirm, mode)
		} else {
			obs.Submission(metrics.OutcomeRejected, mode)
		}
		return nil, err
	}
	s.submitting = true
	s.submission = SubmissionState{Status: StatusPending, MultiBand: opts.MultiBand, UpdatedAt: time.Now().UTC()}
	s.mu.Unlock()

	records, err := s.score(ctx, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false
	if err != nil {
		s.submission = SubmissionState{Status: StatusFailed, MultiBand: opts.MultiBand, Error: err.Error(), UpdatedAt: time.Now().UTC()}
		obs.Submission(metrics.OutcomeFailed, mode)
		s.mgr.logger.Error("submission failed", "session_id", s.ID, "site", s.Site, "bmp", s.BMP,
			"multi_band", opts.MultiBand, "error", err)
		s.mgr.publish(hermes.SubjectSubmissionFailed, hermes.SubmissionFailedEvent{
			SessionID: s.ID, Site: s.Site, BMP: s.BMP, MultiBand: opts.MultiBand, Error: err.Error(),
		})
		return nil, fmt.Errorf("score submission: %w", err)
	}

	cache := s.mgr.Results(opts.MultiBand)
	res := &SubmitResult{Dataset: cache.Dataset(), Warnings: payload.Warnings()}
	recorded := 0
	// The caller may go away once scoring has returned; the records are
	// persisted regardless.
	persistCtx := context.WithoutCancel(ctx)
	for i, ins := range cache.InsertMany(persistCtx, records) {
		r := records[i]
		res.Outcomes = append(res.Outcomes, Outcome{
			Fingerprint:    ins.Fingerprint,
			Added:          ins.Added,
			BandPercentile: r.BandPercentile,
			Scores:         scoring.Result(r.DerivedScores),
		})
		if !ins.Added {
			continue
		}
		recorded++
		nParams, _ := scoring.Result(r.DerivedScores).Float("n_params")
		s.mgr.publish(hermes.SubjectResultRecorded(ins.Fingerprint), hermes.ResultRecordedEvent{
			Origin:         s.mgr.origin,
			Fingerprint:    ins.Fingerprint,
			Dataset:        cache.Dataset(),
			Site:           s.Site,
			BMP:            s.BMP,
			SessionID:      s.ID,
			BandPercentile: r.BandPercentile,
			NParams:        int(nParams),
			RecordedAt:     time.Now().UTC(),
		})
	}

	s.submission = SubmissionState{Status: StatusSettled, MultiBand: opts.MultiBand, Recorded: recorded, UpdatedAt: time.Now().UTC()}
	obs.Submission(metrics.OutcomeRecorded, mode)
	s.mgr.logger.Info("submission recorded", "session_id", s.ID, "dataset", cache.Dataset(),
		"records", len(records), "new", recorded)
	return res, nil
}

func (s *Session) score(ctx context.Context, p validate.Payload) ([]resultcache.Record, error) {
	scorer := s.mgr.deps.Scorer
	req := p.Request()
	items := p.Analytes()

	if !p.MultiBand() {
		result, err := scorer.Score(ctx, req)
		if err != nil {
			return nil, err
		}
		return []resultcache.Record{{
			Site:          p.Site(),
			BMP:           p.BMP(),
			Analytes:      items,
			DerivedScores: result,
		}}, nil
	}

	results, err := scorer.ScoreBands(ctx, req)
	if err != nil {
		return nil, err
	}
	bs := p.Bands()
	if len(results) != len(bs) {
		return nil, fmt.Errorf("scoring returned %d records for %d bands", len(results), len(bs))
	}
	records := make([]resultcache.Record, len(results))
	for i, result := range results {
		pct := bs[i].Percentile
		records[i] = resultcache.Record{
			Site:           p.Site(),
			BMP:            p.BMP(),
			Analytes:       items,
			BandPercentile: &pct,
			DerivedScores:  result,
		}
	}
	return records, nil
}

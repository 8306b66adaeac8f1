package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/Mashup/internal/analyte"
	"github.com/MikeSquared-Agency/Mashup/internal/bands"
)

// MinActiveAnalytes is the smallest set a composite index can be computed
// from.
const MinActiveAnalytes = 2

// Code identifies a validation finding.
type Code string

const (
	CodeTooFewAnalytes    Code = "too_few_analytes"
	CodeNonPositiveRank   Code = "non_positive_rank"
	CodeNonConsecutive    Code = "non_consecutive_ranks"
	CodeDuplicateBands    Code = "duplicate_band_percentiles"
	CodeThresholdsPending Code = "thresholds_pending"
	CodeNoBands           Code = "no_threshold_bands"
)

type Issue struct {
	Code     Code     `json:"code"`
	Message  string   `json:"message"`
	Analytes []string `json:"analytes,omitempty"`
}

// RejectionError blocks a submission outright.
type RejectionError struct {
	Reasons []Issue `json:"reasons"`
}

func (e *RejectionError) Error() string {
	msgs := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		msgs[i] = r.Message
	}
	return "submission rejected: " + strings.Join(msgs, "; ")
}

// ConfirmationError is returned when the snapshot is unusual but allowed,
// and the caller has not confirmed it.
type ConfirmationError struct {
	Warnings []Issue `json:"warnings"`
}

func (e *ConfirmationError) Error() string {
	msgs := make([]string, len(e.Warnings))
	for i, w := range e.Warnings {
		msgs[i] = w.Message
	}
	return "confirmation required: " + strings.Join(msgs, "; ")
}

// Input is the snapshot presented for submission.
type Input struct {
	Site      string
	BMP       string
	Analytes  []analyte.Item
	MultiBand bool
	Bands     []bands.Band
	// Pending lists active analytes whose threshold lookup has not settled.
	Pending []string
}

// Verdict is the outcome of Check.
type Verdict struct {
	Rejections []Issue `json:"rejections,omitempty"`
	Warnings   []Issue `json:"warnings,omitempty"`
}

func (v Verdict) Blocked() bool { return len(v.Rejections) > 0 }

// Check inspects in without deciding whether warnings were confirmed.
func Check(in Input) Verdict {
	var v Verdict
	active := activeItems(in.Analytes)

	if len(active) < MinActiveAnalytes {
		v.Rejections = append(v.Rejections, Issue{
			Code:    CodeTooFewAnalytes,
			Message: fmt.Sprintf("mashup score cannot be calculated with less than %d parameters (got %d)", MinActiveAnalytes, len(active)),
		})
	}

	var bad []string
	for _, a := range active {
		if a.Rank <= 0 {
			bad = append(bad, a.Name)
		}
	}
	if len(bad) > 0 {
		v.Rejections = append(v.Rejections, Issue{
			Code:     CodeNonPositiveRank,
			Message:  "ranking values must be integers > 0",
			Analytes: bad,
		})
	}

	if in.MultiBand && len(in.Bands) == 0 {
		v.Rejections = append(v.Rejections, Issue{
			Code:    CodeNoBands,
			Message: "multi-threshold comparison needs at least one threshold band",
		})
	}

	if len(bad) == 0 && len(active) > 0 && !consecutive(active) {
		v.Warnings = append(v.Warnings, Issue{
			Code:    CodeNonConsecutive,
			Message: "priority ranking values are not consecutive integers, which may produce unexpected results",
		})
	}

	if in.MultiBand {
		if dups := duplicatePercentiles(in.Bands); len(dups) > 0 {
			v.Warnings = append(v.Warnings, Issue{
				Code:    CodeDuplicateBands,
				Message: fmt.Sprintf("threshold bands share percentiles %v", dups),
			})
		}
	}

	if len(in.Pending) > 0 {
		pending := append([]string(nil), in.Pending...)
		sort.Strings(pending)
		v.Warnings = append(v.Warnings, Issue{
			Code:     CodeThresholdsPending,
			Message:  "some threshold lookups have not finished; the last settled values will be submitted",
			Analytes: pending,
		})
	}

	return v
}

// Accept validates in and, when allowed, returns the immutable payload.
// Warnings block only when confirmed is false.
func Accept(in Input, confirmed bool) (Payload, error) {
	v := Check(in)
	if v.Blocked() {
		return Payload{}, &RejectionError{Reasons: v.Rejections}
	}
	if len(v.Warnings) > 0 && !confirmed {
		return Payload{}, &ConfirmationError{Warnings: v.Warnings}
	}
	return newPayload(in, v.Warnings), nil
}

func activeItems(items []analyte.Item) []analyte.Item {
	var out []analyte.Item
	for _, a := range items {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out
}

// consecutive reports whether the ranks are exactly 1..k.
func consecutive(items []analyte.Item) bool {
	ranks := make([]int, len(items))
	for i, a := range items {
		ranks[i] = a.Rank
	}
	return analyte.CheckPermutation(ranks) == nil
}

func duplicatePercentiles(bs []bands.Band) []float64 {
	seen := make(map[float64]int)
	var dups []float64
	for _, b := range bs {
		seen[b.Percentile]++
		if seen[b.Percentile] == 2 {
			dups = append(dups, b.Percentile)
		}
	}
	sort.Float64s(dups)
	return dups
}

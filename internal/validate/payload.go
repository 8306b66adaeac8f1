package validate

import (
	"sort"

	"github.com/MikeSquared-Agency/Mashup/internal/analyte"
	"github.com/MikeSquared-Agency/Mashup/internal/bands"
	"github.com/MikeSquared-Agency/Mashup/internal/scoring"
)

// Payload is an accepted snapshot. Its contents are copied on the way in
// and on the way out so later edits to the session cannot reach it.
type Payload struct {
	site      string
	bmp       string
	analytes  []analyte.Item
	multiBand bool
	bands     []bands.Band
	warnings  []Issue
}

func newPayload(in Input, warnings []Issue) Payload {
	active := activeItems(in.Analytes)
	sort.SliceStable(active, func(i, j int) bool { return active[i].Rank < active[j].Rank })
	p := Payload{
		site:      in.Site,
		bmp:       in.BMP,
		analytes:  active,
		multiBand: in.MultiBand,
		warnings:  append([]Issue(nil), warnings...),
	}
	if in.MultiBand {
		p.bands = append([]bands.Band(nil), in.Bands...)
	}
	return p
}

func (p Payload) Site() string    { return p.site }
func (p Payload) BMP() string     { return p.bmp }
func (p Payload) MultiBand() bool { return p.multiBand }

// Analytes returns the active analytes ordered by rank.
func (p Payload) Analytes() []analyte.Item {
	return append([]analyte.Item(nil), p.analytes...)
}

func (p Payload) Bands() []bands.Band {
	return append([]bands.Band(nil), p.bands...)
}

// Warnings returns the confirmed warnings the payload was accepted with.
func (p Payload) Warnings() []Issue {
	return append([]Issue(nil), p.warnings...)
}

// Request converts the payload to the scoring service request body.
func (p Payload) Request() scoring.Request {
	req := scoring.Request{Site: p.site, BMP: p.bmp}
	for _, a := range p.analytes {
		req.Analytes = append(req.Analytes, scoring.AnalyteInput{
			Name:      a.Name,
			Unit:      a.Unit,
			Threshold: a.ThresholdValue,
			Ranking:   a.Rank,
		})
	}
	for _, b := range p.bands {
		req.Thresholds = append(req.Thresholds, b.Percentile)
	}
	return req
}

package resultcache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/MikeSquared-Agency/Mashup/internal/analyte"
)

// Record is one successful scoring result. Analytes is the snapshot of the
// submitted active analytes; DerivedScores is whatever the scoring service
// returned, kept opaque.
type Record struct {
	Site           string                     `json:"sitename"`
	BMP            string                     `json:"bmpname"`
	Analytes       []analyte.Item             `json:"analytes"`
	BandPercentile *float64                   `json:"band_percentile,omitempty"`
	DerivedScores  map[string]json.RawMessage `json:"derived_scores,omitempty"`
	Fingerprint    string                     `json:"fingerprint"`
	CreatedAt      time.Time                  `json:"created_at"`
}

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// Fingerprint hashes the meaningful content of a submission: site, bmp, band
// (multi-band records only) and the analytes sorted by name with their rank,
// threshold and unit. Display-only fields and field order do not affect it.
func Fingerprint(r Record) string {
	items := make([]analyte.Item, len(r.Analytes))
	copy(items, r.Analytes)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	h := xxhash.New()
	h.WriteString(r.Site)
	h.WriteString(fieldSep)
	h.WriteString(r.BMP)
	h.WriteString(fieldSep)
	if r.BandPercentile != nil {
		h.WriteString(strconv.FormatFloat(*r.BandPercentile, 'g', -1, 64))
	}
	h.WriteString(recordSep)
	for _, a := range items {
		h.WriteString(a.Name)
		h.WriteString(fieldSep)
		h.WriteString(strconv.Itoa(a.Rank))
		h.WriteString(fieldSep)
		h.WriteString(strconv.FormatFloat(a.ThresholdValue, 'g', -1, 64))
		h.WriteString(fieldSep)
		h.WriteString(a.Unit)
		h.WriteString(recordSep)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Export flattens records into one row per analyte, each carrying the
// record's context and every scalar derived score.
func Export(records []Record) []map[string]interface{} {
	var rows []map[string]interface{}
	for _, r := range records {
		scalars := make(map[string]interface{})
		for k, raw := range r.DerivedScores {
			var v interface{}
			if err := json.Unmarshal(raw, &v); err != nil {
				continue
			}
			switch v.(type) {
			case float64, string, bool:
				scalars[k] = v
			}
		}
		for _, a := range r.Analytes {
			row := map[string]interface{}{
				"analytename":          a.Name,
				"unit":                 a.Unit,
				"ranking":              a.Rank,
				"threshold_value":      a.ThresholdValue,
				"threshold_percentile": a.ThresholdPercentile,
			}
			for k, v := range scalars {
				row[k] = v
			}
			row["sitename"] = r.Site
			row["bmpname"] = r.BMP
			if r.BandPercentile != nil {
				row["band_percentile"] = *r.BandPercentile
			}
			rows = append(rows, row)
		}
	}
	return rows
}

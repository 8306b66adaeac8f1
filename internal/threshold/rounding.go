package threshold

import "github.com/shopspring/decimal"

// DisplayPlaces is the number of decimals shown for thresholds and used when
// comparing round-tripped values.
const DisplayPlaces = 2

// Round rounds v half away from zero to DisplayPlaces decimals. Stored values
// stay unrounded; only views call this.
func Round(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(DisplayPlaces).Float64()
	return f
}

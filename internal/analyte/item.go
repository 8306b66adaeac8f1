package analyte

// Item is one measurable parameter under configuration within a (site, bmp)
// context. Rank is only meaningful while IsActive.
type Item struct {
	Name                string  `json:"analytename"`
	Unit                string  `json:"unit"`
	IsActive            bool    `json:"is_active"`
	Rank                int     `json:"rank"`
	ThresholdValue      float64 `json:"threshold_value"`
	ThresholdPercentile float64 `json:"threshold_percentile"`
}

// Descriptor is what the analyte catalog returns for a context.
type Descriptor struct {
	Name string `json:"analytename"`
	Unit string `json:"unit"`
}

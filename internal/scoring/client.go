package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/Mashup/internal/upstream"
)

// AnalyteInput is one active analyte as the scoring service expects it.
type AnalyteInput struct {
	Name      string  `json:"analytename"`
	Unit      string  `json:"unit"`
	Threshold float64 `json:"threshold_value"`
	Ranking   int     `json:"ranking"`
}

// Request is the body of both scoring endpoints. Thresholds is only sent in
// multi-band mode.
type Request struct {
	Site       string         `json:"sitename"`
	BMP        string         `json:"bmpname"`
	Analytes   []AnalyteInput `json:"analytes"`
	Thresholds []float64      `json:"thresholds,omitempty"`
}

// Result is one computed record. Its fields (n_params, ahp_mashup_score,
// ranksum_mashup_score, per-analyte contributions, ...) are owned by the
// scoring service and kept opaque here.
type Result map[string]json.RawMessage

// Float reads a numeric field, reporting whether it was present and numeric.
func (r Result) Float(key string) (float64, bool) {
	raw, ok := r[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

type Client interface {
	// Score computes the composite indices for a single threshold set.
	Score(ctx context.Context, req Request) (Result, error)
	// ScoreBands computes one record per threshold band, in band order.
	ScoreBands(ctx context.Context, req Request) ([]Result, error)
}

var _ Client = (*HTTPClient)(nil)

type HTTPClient struct {
	api *upstream.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{api: upstream.NewClient("scoring", baseURL, timeout)}
}

func (c *HTTPClient) Score(ctx context.Context, req Request) (Result, error) {
	var out Result
	if err := c.api.PostJSON(ctx, "/direct-comparison-data", req, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("scoring: empty result")
	}
	return out, nil
}

func (c *HTTPClient) ScoreBands(ctx context.Context, req Request) ([]Result, error) {
	if len(req.Thresholds) == 0 {
		return nil, fmt.Errorf("scoring: multi-band request without thresholds")
	}
	var out []Result
	if err := c.api.PostJSON(ctx, "/threshcomparison", req, &out); err != nil {
		return nil, err
	}
	if len(out) != len(req.Thresholds) {
		return nil, fmt.Errorf("scoring: expected %d band records, got %d", len(req.Thresholds), len(out))
	}
	return out, nil
}

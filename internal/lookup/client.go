package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MikeSquared-Agency/Mashup/internal/analyte"
	"github.com/MikeSquared-Agency/Mashup/internal/threshold"
	"github.com/MikeSquared-Agency/Mashup/internal/upstream"
)

// noDataSentinel is what the data API returns from /threshval when the
// context has no observations for the analyte.
const noDataSentinel = -88

var ErrNoData = errors.New("no observations for analyte at this site/bmp")

// Client is the data API surface the engine needs: the analyte catalog for a
// (site, bmp) context and the two threshold conversions.
type Client interface {
	threshold.Lookup
	ListAnalytes(ctx context.Context, site, bmp string) ([]analyte.Descriptor, error)
}

var _ Client = (*HTTPClient)(nil)

type HTTPClient struct {
	api   *upstream.Client
	group singleflight.Group
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{api: upstream.NewClient("dataapi", baseURL, timeout)}
}

type analytesResponse struct {
	Analytes []analyte.Descriptor `json:"analytes"`
}

func (c *HTTPClient) ListAnalytes(ctx context.Context, site, bmp string) ([]analyte.Descriptor, error) {
	q := url.Values{}
	q.Set("sitename", site)
	q.Set("bmpname", bmp)

	var resp analytesResponse
	if err := c.api.GetJSON(ctx, "/analytes?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Analytes, nil
}

type threshValResponse struct {
	ThreshVal *float64 `json:"threshval"`
}

type percentileResponse struct {
	PercentileRank *float64 `json:"percentile_rank"`
}

// ValueForPercentile returns the threshold value at percentile p. Identical
// concurrent requests share one upstream call.
func (c *HTTPClient) ValueForPercentile(ctx context.Context, site, bmp, name string, p float64) (float64, error) {
	q := url.Values{}
	q.Set("sitename", site)
	q.Set("bmpname", bmp)
	q.Set("analyte", name)
	q.Set("percentile", strconv.FormatFloat(p, 'f', -1, 64))
	path := "/threshval?" + q.Encode()

	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		var resp threshValResponse
		if err := c.api.GetJSON(ctx, path, &resp); err != nil {
			return 0.0, err
		}
		if resp.ThreshVal == nil {
			return 0.0, fmt.Errorf("dataapi: threshval missing from response")
		}
		if *resp.ThreshVal == noDataSentinel {
			return 0.0, fmt.Errorf("%w: %s", ErrNoData, name)
		}
		return *resp.ThreshVal, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// PercentileForValue returns the percentile rank of value v.
func (c *HTTPClient) PercentileForValue(ctx context.Context, site, bmp, name string, v float64) (float64, error) {
	q := url.Values{}
	q.Set("sitename", site)
	q.Set("bmpname", bmp)
	q.Set("analyte", name)
	q.Set("threshval", strconv.FormatFloat(v, 'f', -1, 64))
	path := "/percentileval?" + q.Encode()

	p, err, _ := c.group.Do(path, func() (interface{}, error) {
		var resp percentileResponse
		if err := c.api.GetJSON(ctx, path, &resp); err != nil {
			return 0.0, err
		}
		if resp.PercentileRank == nil {
			return 0.0, fmt.Errorf("dataapi: percentile_rank missing from response")
		}
		return *resp.PercentileRank, nil
	})
	if err != nil {
		return 0, err
	}
	return p.(float64), nil
}

package hermes

import "time"

// Origin on the events below identifies the publishing process so replicas
// can ignore their own events.

type ResultRecordedEvent struct {
	Origin         string    `json:"origin,omitempty"`
	Fingerprint    string    `json:"fingerprint"`
	Dataset        string    `json:"dataset"`
	Site           string    `json:"sitename"`
	BMP            string    `json:"bmpname"`
	SessionID      string    `json:"session_id,omitempty"`
	BandPercentile *float64  `json:"band_percentile,omitempty"`
	NParams        int       `json:"n_params"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// ResultsClearedEvent has an empty Site when every context was cleared.
type ResultsClearedEvent struct {
	Origin  string `json:"origin,omitempty"`
	Dataset string `json:"dataset"`
	Site    string `json:"sitename,omitempty"`
	BMP     string `json:"bmpname,omitempty"`
	Removed int    `json:"removed"`
}

type BandsUpdatedEvent struct {
	Origin string `json:"origin,omitempty"`
	Count  int    `json:"count"`
	Reset  bool   `json:"reset"`
}

type SubmissionFailedEvent struct {
	SessionID string `json:"session_id"`
	Site      string `json:"sitename"`
	BMP       string `json:"bmpname"`
	MultiBand bool   `json:"multi_band"`
	Error     string `json:"error"`
}

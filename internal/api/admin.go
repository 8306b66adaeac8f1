package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/Mashup/internal/session"
)

type AdminHandler struct {
	mgr *session.Manager
}

func NewAdminHandler(m *session.Manager) *AdminHandler {
	return &AdminHandler{mgr: m}
}

type Stats struct {
	Sessions     int `json:"sessions"`
	IndexRecords int `json:"index_records"`
	BandRecords  int `json:"band_records"`
	Bands        int `json:"bands"`
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, Stats{
		Sessions:     h.mgr.Len(),
		IndexRecords: h.mgr.Results(false).Len(ctx),
		BandRecords:  h.mgr.Results(true).Len(ctx),
		Bands:        len(h.mgr.Bands(ctx)),
	})
}

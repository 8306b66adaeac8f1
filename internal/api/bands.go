package api

import (
	"net/http"
	"strconv"

	"github.com/MikeSquared-Agency/Mashup/internal/bands"
	"github.com/MikeSquared-Agency/Mashup/internal/session"
)

type BandsHandler struct {
	mgr *session.Manager
}

func NewBandsHandler(m *session.Manager) *BandsHandler {
	return &BandsHandler{mgr: m}
}

func (h *BandsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Bands(r.Context()))
}

func (h *BandsHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var req []bands.Band
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	out, err := h.mgr.ReplaceBands(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BandsHandler) Update(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(pathParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid band index"})
		return
	}
	var req bands.Band
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	out, err := h.mgr.UpdateBand(r.Context(), index, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BandsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.ResetBands(r.Context()))
}

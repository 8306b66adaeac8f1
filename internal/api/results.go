package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/Mashup/internal/resultcache"
	"github.com/MikeSquared-Agency/Mashup/internal/session"
)

// Dataset path values.
const (
	datasetIndex = "index"
	datasetBands = "bands"
)

type ResultsHandler struct {
	mgr *session.Manager
}

func NewResultsHandler(m *session.Manager) *ResultsHandler {
	return &ResultsHandler{mgr: m}
}

func (h *ResultsHandler) List(w http.ResponseWriter, r *http.Request) {
	multi, ok := datasetParam(w, r)
	if !ok {
		return
	}
	records := h.records(r, multi)
	if records == nil {
		records = []resultcache.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Export returns the records flattened to one row per analyte.
func (h *ResultsHandler) Export(w http.ResponseWriter, r *http.Request) {
	multi, ok := datasetParam(w, r)
	if !ok {
		return
	}
	rows := resultcache.Export(h.records(r, multi))
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// Clear removes the records of one (site, bmp) context.
func (h *ResultsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	multi, ok := datasetParam(w, r)
	if !ok {
		return
	}
	site, bmp := r.URL.Query().Get("sitename"), r.URL.Query().Get("bmpname")
	if site == "" || bmp == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sitename and bmpname required"})
		return
	}
	n, err := h.mgr.ClearResults(r.Context(), multi, site, bmp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *ResultsHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	multi, ok := datasetParam(w, r)
	if !ok {
		return
	}
	n := h.mgr.ClearAllResults(r.Context(), multi)
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *ResultsHandler) records(r *http.Request, multi bool) []resultcache.Record {
	c := h.mgr.Results(multi)
	site := r.URL.Query().Get("sitename")
	if site == "" {
		return c.All(r.Context())
	}
	return c.FilterByContext(r.Context(), site, r.URL.Query().Get("bmpname"))
}

func datasetParam(w http.ResponseWriter, r *http.Request) (multi bool, ok bool) {
	switch pathParam(r, "dataset") {
	case datasetIndex:
		return false, true
	case datasetBands:
		return true, true
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown dataset, expected index or bands"})
		return false, false
	}
}

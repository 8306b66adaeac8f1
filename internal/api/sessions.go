package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/Mashup/internal/analyte"
	"github.com/MikeSquared-Agency/Mashup/internal/session"
)

type SessionsHandler struct {
	mgr *session.Manager
}

func NewSessionsHandler(m *session.Manager) *SessionsHandler {
	return &SessionsHandler{mgr: m}
}

type OpenSessionRequest struct {
	Site string `json:"sitename"`
	BMP  string `json:"bmpname"`
	Mode string `json:"mode,omitempty"`
}

func (h *SessionsHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Site == "" || req.BMP == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sitename and bmpname required"})
		return
	}
	var mode analyte.Mode
	if req.Mode != "" {
		m, err := analyte.ParseMode(req.Mode)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		mode = m
	}

	s, err := h.mgr.Open(r.Context(), req.Site, req.BMP, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.View())
}

func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *SessionsHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.Close(pathParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(s *session.Session) error { return s.Activate(pathParam(r, "name")) })
}

func (h *SessionsHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, func(s *session.Session) error { return s.Deactivate(pathParam(r, "name")) })
}

type RankRequest struct {
	Rank int `json:"rank"`
}

func (h *SessionsHandler) SetRank(w http.ResponseWriter, r *http.Request) {
	var req RankRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	h.apply(w, r, func(s *session.Session) error { return s.SetRank(pathParam(r, "name"), req.Rank) })
}

type PercentileRequest struct {
	Percentile *float64 `json:"percentile"`
}

func (h *SessionsHandler) EditPercentile(w http.ResponseWriter, r *http.Request) {
	var req PercentileRequest
	if err := decode(r, &req); err != nil || req.Percentile == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "percentile required"})
		return
	}
	h.apply(w, r, func(s *session.Session) error { return s.EditPercentile(pathParam(r, "name"), *req.Percentile) })
}

type ValueRequest struct {
	Value *float64 `json:"value"`
}

func (h *SessionsHandler) EditValue(w http.ResponseWriter, r *http.Request) {
	var req ValueRequest
	if err := decode(r, &req); err != nil || req.Value == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "value required"})
		return
	}
	h.apply(w, r, func(s *session.Session) error { return s.EditValue(pathParam(r, "name"), *req.Value) })
}

// SetAllPercentiles applies one percentile to every analyte.
func (h *SessionsHandler) SetAllPercentiles(w http.ResponseWriter, r *http.Request) {
	var req PercentileRequest
	if err := decode(r, &req); err != nil || req.Percentile == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "percentile required"})
		return
	}
	h.apply(w, r, func(s *session.Session) error { return s.SetAllPercentiles(*req.Percentile) })
}

type ModeRequest struct {
	Mode string `json:"mode"`
}

func (h *SessionsHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	mode, err := analyte.ParseMode(req.Mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.apply(w, r, func(s *session.Session) error {
		s.SetMode(mode)
		return nil
	})
}

type SubmitRequest struct {
	Confirm   bool `json:"confirm"`
	MultiBand bool `json:"multi_band"`
}

func (h *SessionsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SubmitRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	res, err := s.Submit(r.Context(), session.SubmitOptions{Confirm: req.Confirm, MultiBand: req.MultiBand})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *SessionsHandler) Submission(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Submission())
}

func (h *SessionsHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.mgr.Get(pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

// apply runs op against the addressed session and responds with the
// updated view.
func (h *SessionsHandler) apply(w http.ResponseWriter, r *http.Request, op func(*session.Session) error) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := op(s); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

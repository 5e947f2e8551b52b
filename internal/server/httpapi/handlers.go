package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/syncbox/internal/changes"
	"github.com/dmitrijs2005/syncbox/internal/common"
	"github.com/dmitrijs2005/syncbox/internal/server/auth"
)

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(context.Background(), "response encode error", "error", err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, common.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken):
		code = http.StatusUnauthorized
	}
	if code == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err.Error())
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIssueToken is a development convenience: it signs a token for any
// caller-supplied user id. Disabled in production mode.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		s.writeError(w, r, common.ErrValidation)
		return
	}

	token, err := auth.GenerateToken(req.UserID, s.jwtSecret, s.tokenValidity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"accessToken": token})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	since, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	if err != nil {
		since = 0
	}
	deviceID := r.URL.Query().Get("deviceId")

	recs := s.ledger.Query(r.Context(), userID(r), since, deviceID)
	if recs == nil {
		recs = []changes.Record{}
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req changes.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, common.ErrValidation)
		return
	}

	accepted := s.ledger.Append(r.Context(), userID(r), req.Changes)
	s.writeJSON(w, http.StatusOK, changes.PushResponse{Success: true, RecordCount: accepted})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	st := s.ledger.Status(r.Context(), userID(r), deviceID)

	s.writeJSON(w, http.StatusOK, changes.StatusResponse{
		UserID:        userID(r),
		DeviceID:      deviceID,
		TotalRecords:  st.TotalRecords,
		DeviceRecords: st.DeviceRecords,
		ServerTime:    s.now().UnixMilli(),
	})
}

func (s *Server) handleClearRecords(w http.ResponseWriter, r *http.Request) {
	s.ledger.Clear(r.Context(), userID(r))
	w.WriteHeader(http.StatusNoContent)
}

func entityFromRequest(r *http.Request) (changes.EntityType, error) {
	entity, ok := changes.EntityForCollection(r.PathValue("collection"))
	if !ok {
		return "", common.ErrNotFound
	}
	return entity, nil
}

func (s *Server) handleContentCreate(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, r, common.ErrValidation)
		return
	}

	_, stored, err := s.content.Upsert(r.Context(), userID(r), entity, "", payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleContentUpdate(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, r, common.ErrValidation)
		return
	}

	_, stored, err := s.content.Upsert(r.Context(), userID(r), entity, r.PathValue("id"), payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleContentDelete(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.content.Delete(r.Context(), userID(r), entity, r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContentGet(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	payload, err := s.content.Get(r.Context(), userID(r), entity, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleContentList(w http.ResponseWriter, r *http.Request) {
	entity, err := entityFromRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items := s.content.List(r.Context(), userID(r), entity)
	s.writeJSON(w, http.StatusOK, items)
}

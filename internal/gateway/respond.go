package gateway

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/buehnenplan/syncd/internal/auth"
	"github.com/buehnenplan/syncd/internal/syncer"
)

// errorBody is the envelope for every non-200 response. Issues is only
// populated for validation failures; auth and backend errors never leak
// internal detail.
type errorBody struct {
	Error  string         `json:"error"`
	Issues []syncer.Issue `json:"issues,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeValidationError(w http.ResponseWriter, ve *syncer.ValidationError) {
	s.writeJSON(w, http.StatusBadRequest, errorBody{
		Error:  "validation failed",
		Issues: ve.Issues,
	})
}

func (s *Server) writeDenial(w http.ResponseWriter, d *auth.Denial) {
	msg := "forbidden"
	if d.Status == http.StatusUnauthorized {
		msg = "unauthorized"
	}
	if d.Status == http.StatusInternalServerError {
		msg = "internal error"
	}
	s.writeJSON(w, d.Status, errorBody{Error: msg})
}

func (s *Server) writeInternal(w http.ResponseWriter, err error) {
	s.logger.Error("sync request failed", zap.Error(err))
	s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

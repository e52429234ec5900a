package api

import (
	"encoding/json"
	"net/http"

	"github.com/Nash0810/kollab-board/internal/apperr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response_encode_failed", "error", err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.Internal {
		s.logger.Error("request_failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
	}
	s.writeJSON(w, apperr.HTTPStatus(code), ErrorResponse{
		Code:    string(code),
		Message: apperr.MessageOf(err),
	})
}

// decodeBody decodes the JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.InvalidArgument, "malformed request body", err)
	}
	return nil
}

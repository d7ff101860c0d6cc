package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	tokenledger "github.com/xraph/tokenledger"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case tokenledger.IsValidation(err):
		return http.StatusBadRequest
	case tokenledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, tokenledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, tokenledger.ErrAnalyticsUnavailable):
		return http.StatusServiceUnavailable
	case tokenledger.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("api: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeErrorMessage(w, status, "internal error")
		return
	}

	resp := ErrorResponse{Error: err.Error()}
	var ve tokenledger.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst and validates its struct tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "invalid " + fe.Field() + " (" + fe.Tag() + ")",
				Field: fe.Field(),
			})
			return false
		}
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

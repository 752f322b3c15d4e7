package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"comprobantes.org/internal/audit"
	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/ids"
	"comprobantes.org/internal/obs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorBody{
		Error:     msg,
		Code:      code,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

// handleError translates a service error into its HTTP status.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	code := auth.Code(err)
	switch code {
	case "unauthenticated":
		w.Header().Set("WWW-Authenticate", `Bearer realm="comprobantes"`)
		writeError(w, r, http.StatusUnauthorized, code, err.Error())
	case "forbidden":
		writeError(w, r, http.StatusForbidden, code, err.Error())
	case "invalid_user", "invalid_company", "not_found":
		writeError(w, r, http.StatusNotFound, code, err.Error())
	case "invalid_input":
		writeError(w, r, http.StatusBadRequest, code, err.Error())
	case "conflict":
		writeError(w, r, http.StatusConflict, code, err.Error())
	default:
		obs.Logger().Error("request failed",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", auth.ErrInvalidInput)
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body too large", auth.ErrInvalidInput)
		}
		return fmt.Errorf("%w: %v", auth.ErrInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", auth.ErrInvalidInput)
	}
	return nil
}

// pathID parses a numeric route parameter. A malformed user id reads as an
// unknown user, likewise for companies.
func pathID(r *http.Request, param string, notFound error) (int64, error) {
	raw := chi.URLParam(r, param)
	id, err := ids.ParseID(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", notFound, raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", auth.ErrInvalidInput, name)
	}
	return v, nil
}

func queryInt64Ptr(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", auth.ErrInvalidInput, name)
	}
	return &v, nil
}

func sessionOf(r *http.Request) auth.Session {
	s, _ := auth.SessionFromContext(r.Context())
	return s
}

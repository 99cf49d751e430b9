package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/game"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	// Retryable is set when repeating the same request later can succeed
	Retryable bool `json:"retryable,omitempty"`
}

// retryAfterSeconds is advertised on retryable failures
const retryAfterSeconds = "1"

func sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("⚠️ Failed to write response")
	}
}

// sendError writes an error response with a message
func sendError(w http.ResponseWriter, statusCode int, message string) {
	sendJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}

// StatusFor maps a domain error to its HTTP status
func StatusFor(err error) int {
	e, ok := game.AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if e.Retryable() {
		if e.Kind == game.KindOracle {
			return http.StatusServiceUnavailable
		}
		return http.StatusConflict
	}
	switch {
	case errors.Is(e, game.ErrGameAlreadyFull), errors.Is(e, game.ErrGameAlreadyEnded):
		return http.StatusConflict
	}
	switch e.Kind {
	case game.KindValidation:
		return http.StatusBadRequest
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindArithmetic:
		return http.StatusUnprocessableEntity
	case game.KindAuthorization:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// sendDomainError reports err with its code. Unclassified errors are logged
// and hidden from the client.
func sendDomainError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("❌ Request failed")
		sendError(w, status, "Internal server error")
		return
	}
	e, _ := game.AsError(err)
	if e.Retryable() {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	sendJSON(w, status, ErrorResponse{Success: false, Error: err.Error(), Code: e.Code, Retryable: e.Retryable()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, config.RequestBodyMaxLen)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// CORS adds CORS headers to allow frontend requests
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || config.AllowOrigin != "*" {
			origin = config.AllowOrigin
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Vary", "Origin")

		// Handle preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

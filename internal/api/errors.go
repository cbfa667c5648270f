package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"bizops/pkg/logger"
)

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, APIError{Code: code, Message: message})
}

// AppError is an expected failure that knows how to present itself to API clients.
type AppError interface {
	error
	HTTPStatus() int
	ErrorCode() string
	PublicMessage() string
	Params() map[string]any
}

// WriteAppError writes err in the error envelope. Anything that is not an AppError is treated as an
// internal failure; verbose adds its text to the response.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error, verbose bool) {
	var appErr AppError
	if !errors.As(err, &appErr) {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg := "internal error"
		if verbose {
			msg = err.Error()
		}
		WriteError(w, http.StatusInternalServerError, "INTERNAL", msg)
		return
	}

	writeEnvelope(w, appErr.HTTPStatus(), APIError{
		Code:    appErr.ErrorCode(),
		Message: appErr.PublicMessage(),
		Details: appErr.Params(),
	})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEnvelope(w http.ResponseWriter, status int, e APIError) {
	WriteJSON(w, status, ErrorEnvelope{Error: e})
}

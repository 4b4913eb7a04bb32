package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Error codes carried in error bodies.
const (
	codeInvalidRequest   = "invalid_request"
	codeUnavailable      = "unavailable"
	codeInternal         = "internal"
	codeNotFound         = "not_found"
	codeMethodNotAllowed = "method_not_allowed"
)

type errorBody struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Status: "error", Error: code, Message: message})
}

// Package api serves the question-answer engine over HTTP and MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/kalambet/qabot/internal/engine"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxImportBodySize = 10 << 20 // 10MB

type Deps struct {
	Engine *engine.Engine
	Asks   *AskRecorder
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewHandler returns the HTTP API: the Google Chat webhook, ask/train and the
// admin routes.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler)

	r.Get("/health", handleHealth)
	r.Get("/api/status", handleStatus(deps))
	r.Post("/webhook", handleWebhook(deps))
	r.Post("/ask", handleAsk(deps))
	r.Post("/train", handleTrain(deps))

	r.Route("/admin", func(r chi.Router) {
		r.Get("/data", handleListData(deps))
		r.Put("/update/{ref}", handleUpdate(deps))
		r.Delete("/delete/{ref}", handleDelete(deps))
		r.Post("/import", handleImport(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/unanswered", handleUnanswered(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// engineError writes err with the status its sentinel maps to.
func engineError(w http.ResponseWriter, err error) {
	code, typ := errorStatus(err)
	httpError(w, code, typ, "%v", err)
}

// legacyError writes err in the {"status":"error","message"} envelope used by
// /train and the update and delete routes.
func legacyError(w http.ResponseWriter, err error) {
	code, _ := errorStatus(err)
	writeJSON(w, code, map[string]string{"status": "error", "message": err.Error()})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kalambet/qabot/internal/engine"
)

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := deps.Engine.Stats(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "running",
			"message": "🤖 qabot API is running!",
			"endpoints": map[string]string{
				"webhook":    "/webhook (POST)",
				"ask":        "/ask (POST)",
				"train":      "/train (POST)",
				"admin":      "/admin/data (GET)",
				"update":     "/admin/update/:ref (PUT)",
				"delete":     "/admin/delete/:ref (DELETE)",
				"import":     "/admin/import (POST)",
				"stats":      "/admin/stats (GET)",
				"unanswered": "/admin/unanswered (GET)",
			},
			"records": stats.Count,
			"state":   stats.State,
		})
	}
}

// chatEvent is the subset of a Google Chat event the bot reads.
type chatEvent struct {
	Message *struct {
		Text string `json:"text"`
	} `json:"message"`
}

func handleWebhook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var ev chatEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		// ADDED_TO_SPACE and other events carry no message.
		if ev.Message == nil {
			writeJSON(w, http.StatusOK, map[string]string{"text": "OK"})
			return
		}

		a := deps.Engine.Ask(r.Context(), ev.Message.Text)
		deps.Asks.Record(r.Context(), ChannelWebhook, ev.Message.Text, a)
		deps.logger().Debug("webhook ask", "matched", a.Matched, "confidence", a.Confidence)

		writeJSON(w, http.StatusOK, map[string]string{"text": a.Text})
	}
}

type askRequest struct {
	Text      string   `json:"text"`
	Threshold *float64 `json:"threshold"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		threshold := deps.Engine.Threshold()
		if req.Threshold != nil {
			if *req.Threshold < 0 || *req.Threshold > 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "threshold must be in [0, 1]")
				return
			}
			threshold = *req.Threshold
		}

		a := deps.Engine.AskWithThreshold(r.Context(), req.Text, threshold)
		deps.Asks.Record(r.Context(), ChannelHTTP, req.Text, a)

		writeJSON(w, http.StatusOK, a)
	}
}

func handleTrain(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var p engine.Pair
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "Thiếu question hoặc answer"})
			return
		}

		rec, err := deps.Engine.Teach(r.Context(), p.Question, p.Answer)
		if errors.Is(err, engine.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "Thiếu question hoặc answer"})
			return
		}
		if err != nil {
			deps.logger().Warn("train failed", "error", err)
			legacyError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": "Đã thêm training data",
			"record":  rec,
		})
	}
}

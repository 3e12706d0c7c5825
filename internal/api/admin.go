package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/qabot/internal/engine"
	"github.com/kalambet/qabot/internal/importer"
	"github.com/kalambet/qabot/internal/storage"
)

func handleListData(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := deps.Engine.List(r.Context())
		if entries == nil {
			entries = []engine.Entry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"training_data": entries,
			"total":         len(entries),
		})
	}
}

func handleUpdate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		id, err := deps.Engine.Resolve(chi.URLParam(r, "ref"))
		if err != nil {
			legacyError(w, err)
			return
		}

		var p engine.Pair
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid request body"})
			return
		}

		rec, err := deps.Engine.Update(r.Context(), id, p.Question, p.Answer)
		if err != nil {
			deps.logger().Warn("update failed", "id", id, "error", err)
			legacyError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": "Đã cập nhật",
			"record":  rec,
		})
	}
}

func handleDelete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := deps.Engine.Resolve(chi.URLParam(r, "ref"))
		if err != nil {
			legacyError(w, err)
			return
		}

		rec, err := deps.Engine.Delete(r.Context(), id)
		if err != nil {
			deps.logger().Warn("delete failed", "id", id, "error", err)
			legacyError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": "Đã xóa: " + truncate(rec.Question, 50),
			"record":  rec,
		})
	}
}

// handleImport teaches every pair in the body. The body is JSON unless
// ?format= names another importer format.
func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
		defer r.Body.Close()

		format := importer.FormatJSON
		if name := r.URL.Query().Get("format"); name != "" {
			f, err := importer.ParseFormat(name)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			format = f
		}

		pairs, err := importer.Parse(r.Body, format)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		recs, err := deps.Engine.TeachMany(r.Context(), pairs)
		if err != nil {
			deps.logger().Warn("import failed", "pairs", len(pairs), "error", err)
			engineError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "success",
			"imported": len(recs),
			"total":    deps.Engine.Stats(r.Context()).Count,
		})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Engine.Stats(r.Context()))
	}
}

func handleUnanswered(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Asks == nil || deps.Asks.Store == nil {
			engineError(w, errors.New("ask log is not available"))
			return
		}
		limit := parseIntParam(r, "limit", 20, 200)

		asks, err := deps.Asks.Store.RecentAsks(r.Context(), limit, true)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list unanswered questions: %v", err)
			return
		}
		if asks == nil {
			asks = []storage.AskEntry{}
		}
		writeJSON(w, http.StatusOK, asks)
	}
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

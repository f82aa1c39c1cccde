package main

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/docpipe/internal/cache"
	"github.com/sells-group/docpipe/internal/model"
)

// handleGetResult serves a completed document's extraction result, cache
// first with store fallback. A store hit backfills the cache so repeated
// polls of a fresh result stay off the database.
func handleGetResult(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		key := cache.ResultKey(id)

		if raw, ok, err := env.Cache.Get(r.Context(), key); err == nil && ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(raw)
			return
		} else if err != nil {
			zap.L().Warn("result cache read failed", zap.String("document_id", id), zap.Error(err))
		}

		doc, err := env.Store.GetDocument(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		if doc.Status != model.DocumentStatusCompleted || doc.Result == nil {
			writeError(w, http.StatusConflict, "document has no result yet: "+string(doc.Status))
			return
		}

		if raw, err := json.Marshal(doc.Result); err == nil {
			if err := env.Cache.Set(r.Context(), key, raw, cfg.Cache.ResultTTL); err != nil {
				zap.L().Warn("result cache backfill failed", zap.String("document_id", id), zap.Error(err))
			}
		}
		writeJSON(w, http.StatusOK, doc.Result)
	}
}

package main

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/docpipe/internal/session"
)

type sessionSettingsRequest struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Credential string `json:"credential"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type sessionSettingsResponse struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	// Credential is never echoed back; only whether one is set.
	HasCredential bool `json:"has_credential"`
}

func handlePutSettings(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		var req sessionSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		switch req.Provider {
		case "anthropic", "openai":
		case "":
			writeError(w, http.StatusBadRequest, "provider is required")
			return
		default:
			writeError(w, http.StatusBadRequest, "unsupported provider: "+req.Provider)
			return
		}
		if req.Credential == "" {
			writeError(w, http.StatusBadRequest, "credential is required")
			return
		}

		ttl := time.Duration(req.TTLSeconds) * time.Second
		env.Sessions.Set(id, session.Config{
			Provider:   req.Provider,
			Model:      req.Model,
			Credential: req.Credential,
		}, ttl)

		zap.L().Info("session settings stored",
			zap.String("session_id", id),
			zap.String("provider", req.Provider),
		)
		writeJSON(w, http.StatusOK, sessionSettingsResponse{
			Provider:      req.Provider,
			Model:         req.Model,
			HasCredential: true,
		})
	}
}

func handleGetSettings(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, ok := env.Sessions.Get(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, sessionSettingsResponse{
			Provider:      sc.Provider,
			Model:         sc.Model,
			HasCredential: sc.Credential != "",
		})
	}
}

func handleDeleteSettings(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env.Sessions.Clear(r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	}
}

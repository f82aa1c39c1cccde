package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document processing API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newMux(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newMux builds the HTTP API routes over the wired app environment.
func newMux(env *appEnv) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /documents", handleUpload(env))
	mux.HandleFunc("GET /documents", handleListDocuments(env))
	mux.HandleFunc("GET /documents/{id}", handleGetDocument(env))
	mux.HandleFunc("GET /documents/{id}/result", handleGetResult(env))
	mux.HandleFunc("GET /documents/{id}/events", handleEvents(env))

	mux.HandleFunc("PUT /sessions/{id}/settings", handlePutSettings(env))
	mux.HandleFunc("GET /sessions/{id}/settings", handleGetSettings(env))
	mux.HandleFunc("DELETE /sessions/{id}/settings", handleDeleteSettings(env))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func handleListDocuments(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.DocumentFilter{
			Status: model.DocumentStatus(r.URL.Query().Get("status")),
			Limit:  queryInt(r, "limit", 50),
			Offset: queryInt(r, "offset", 0),
		}
		docs, err := env.Store.ListDocuments(r.Context(), filter)
		if err != nil {
			zap.L().Error("list documents failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list documents failed")
			return
		}
		if docs == nil {
			docs = []model.Document{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	}
}

func handleGetDocument(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := env.Store.GetDocument(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

package main

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/docpipe/internal/model"
	"github.com/sells-group/docpipe/internal/queue"
)

const maxUploadBytes = 32 << 20

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

func handleUpload(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file field is required")
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !allowedExtensions[ext] {
			writeError(w, http.StatusUnsupportedMediaType, "unsupported file type: "+ext)
			return
		}

		if err := os.MkdirAll(cfg.Server.UploadDir, 0o755); err != nil {
			zap.L().Error("create upload dir failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "store upload failed")
			return
		}

		docID := uuid.NewString()
		path := filepath.Join(cfg.Server.UploadDir, docID+ext)
		out, err := os.Create(path)
		if err != nil {
			zap.L().Error("create upload file failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "store upload failed")
			return
		}
		size, err := io.Copy(out, file)
		closeErr := out.Close()
		if err != nil || closeErr != nil {
			_ = os.Remove(path)
			writeError(w, http.StatusInternalServerError, "store upload failed")
			return
		}

		doc := &model.Document{
			ID:       docID,
			Filename: header.Filename,
			FilePath: path,
			FileType: strings.TrimPrefix(ext, "."),
			Size:     size,
			Status:   model.DocumentStatusUploaded,
		}
		if err := env.Store.CreateDocument(r.Context(), doc); err != nil {
			zap.L().Error("create document failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "create document failed")
			return
		}

		jobID, err := env.Queue.Enqueue(r.Context(), doc.ID, path, r.FormValue("session_id"))
		if err != nil {
			if errors.Is(err, queue.ErrDocumentBusy) {
				writeError(w, http.StatusConflict, "document already has a job in flight")
				return
			}
			zap.L().Error("enqueue failed", zap.String("document_id", doc.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "enqueue failed")
			return
		}

		zap.L().Info("document accepted",
			zap.String("document_id", doc.ID),
			zap.String("filename", doc.Filename),
			zap.Int64("size", size),
		)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"document_id": doc.ID,
			"job_id":      jobID,
			"status":      string(model.DocumentStatusUploaded),
		})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

package server

import (
	"errors"
	"net/http"
	"strings"

	"hlsgate/logger"
	"hlsgate/storage"
)

// KeyHandler serves the raw segment encryption key to authenticated players.
func (h *APIHandler) KeyHandler(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Key()
	if err != nil {
		logger.Error("[Key] encryption key unavailable", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(key)
}

// MediaHandler serves playlists and segments below /videos/.
func (h *APIHandler) MediaHandler(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/videos/")
	obj, err := h.media.Open(r.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidPath):
			http.Error(w, "Invalid path", http.StatusBadRequest)
		case errors.Is(err, storage.ErrObjectNotFound):
			http.Error(w, "File not found", http.StatusNotFound)
		default:
			logger.Error("[Media] failed to open media object", logger.String("path", name), logger.ErrorField(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=60")
	http.ServeContent(w, r, obj.Name, obj.ModTime, obj)
}

package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"hlsgate/core/intake"
	"hlsgate/core/transcode"
	"hlsgate/logger"
	"hlsgate/model"
	"hlsgate/repository"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const multipartMemory = 32 << 20

// playbackURL is the public master playlist URL of a video.
func (h *APIHandler) playbackURL(videoID string) string {
	return h.cfg.PublicBaseURL + "/videos/" + url.PathEscape(videoID) + "/" + transcode.MasterPlaylistName
}

// UploadVideoHandler accepts a source video and starts its conversion. It
// answers as soon as the processing record exists.
func (h *APIHandler) UploadVideoHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing 'video' file in form")
		return
	}
	defer file.Close()

	res, err := h.intake.Accept(r.Context(), intake.Upload{
		Title:    r.FormValue("title"),
		Filename: header.Filename,
		Body:     file,
	})
	if err != nil {
		switch {
		case errors.Is(err, intake.ErrMissingFile):
			writeError(w, http.StatusBadRequest, "Missing 'video' file in form")
		case errors.Is(err, intake.ErrMissingTitle):
			writeError(w, http.StatusBadRequest, "Missing 'title' in form")
		default:
			logger.Error("[Upload] failed to accept upload", logger.String("filename", header.Filename), logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "Failed to store upload")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":           true,
		"message":           "Video uploaded, conversion started",
		"id":                res.Video.ID,
		"status":            res.Video.Status,
		"masterPlaylistUrl": h.playbackURL(res.Video.ID),
	})
}

// ListVideosHandler lists the titles of every ready video.
func (h *APIHandler) ListVideosHandler(w http.ResponseWriter, r *http.Request) {
	titles, err := h.videos.ListReady(r.Context())
	if err != nil {
		logger.Error("[Videos] failed to list ready videos", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if titles == nil {
		titles = []model.VideoTitle{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"videos":  titles,
	})
}

// VideoURLHandler resolves ?title= to the playback URL of a ready video.
func (h *APIHandler) VideoURLHandler(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, "Missing 'title' query parameter")
		return
	}

	video, err := h.videos.FindReadyByTitle(r.Context(), title)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Video not found")
			return
		}
		logger.Error("[Videos] failed to resolve title", logger.String("title", title), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"url":     h.playbackURL(video.ID),
	})
}

// VideoStatusHandler reports the conversion status of ?id=.
func (h *APIHandler) VideoStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing 'id' query parameter")
		return
	}

	video, err := h.videos.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Video not found")
			return
		}
		logger.Error("[Videos] failed to load video", logger.String("videoId", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := map[string]interface{}{
		"success": true,
		"id":      video.ID,
		"title":   video.Title,
		"status":  video.Status,
	}
	switch video.Status {
	case model.StatusReady:
		resp["url"] = h.playbackURL(video.ID)
		if video.Duration > 0 {
			resp["duration"] = video.Duration
		}
	case model.StatusFailed:
		resp["error"] = video.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

package server

import (
	"encoding/json"
	"net/http"

	"hlsgate/config"
	"hlsgate/core/auth"
	"hlsgate/core/intake"
	"hlsgate/core/jobfeed"
	"hlsgate/logger"
	"hlsgate/repository"
	"hlsgate/storage"
)

// KeySource hands out the segment encryption key.
type KeySource interface {
	Key() ([]byte, error)
}

// Deps are the collaborators of APIHandler.
type Deps struct {
	Config *config.Config
	Videos repository.VideoRepository
	Users  repository.UserRepository
	Tokens *auth.TokenManager
	Intake *intake.Service
	Keys   KeySource
	Media  storage.MediaStore
	Hub    *jobfeed.Hub // optional
}

// APIHandler 处理所有API请求
type APIHandler struct {
	cfg    *config.Config
	videos repository.VideoRepository
	users  repository.UserRepository
	tokens *auth.TokenManager
	intake *intake.Service
	keys   KeySource
	media  storage.MediaStore
	hub    *jobfeed.Hub
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(d Deps) *APIHandler {
	return &APIHandler{
		cfg:    d.Config,
		videos: d.Videos,
		users:  d.Users,
		tokens: d.Tokens,
		intake: d.Intake,
		keys:   d.Keys,
		media:  d.Media,
		hub:    d.Hub,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("[HTTP] failed to write response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package server

import (
	"net/http"

	"hlsgate/logger"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// JobsWebSocketHandler streams transcode job events to an admin.
func (h *APIHandler) JobsWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "Job feed disabled", http.StatusServiceUnavailable)
		return
	}
	claims, _ := ClaimsFromContext(r.Context())

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[JobFeed] websocket upgrade failed", logger.ErrorField(err))
		return
	}
	h.hub.Attach(conn, claims.Username)
}

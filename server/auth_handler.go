package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"hlsgate/core/auth"
	"hlsgate/logger"
	"hlsgate/model"
	"hlsgate/repository"
)

type contextKey int

const claimsKey contextKey = iota

// credentialsRequest is the body of register and login.
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		return req, false
	}
	req.Username = strings.TrimSpace(req.Username)
	return req, req.Username != "" && req.Password != ""
}

// RegisterHandler creates a student account. Admins are only created from
// the command line or ADMIN_USERNAME at startup.
func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.Error("[Register] failed to hash password", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user := &model.User{Username: req.Username, PasswordHash: hash, Role: model.RoleStudent}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			logger.Warn("[Register] username already exists", logger.String("username", req.Username))
			writeError(w, http.StatusBadRequest, "Username already exists")
			return
		}
		logger.Error("[Register] failed to create user", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	logger.Info("[Register] user registered", logger.String("username", user.Username))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "User registered successfully",
	})
}

// LoginHandler exchanges credentials for a bearer token.
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logger.Error("[Login] failed to load user", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Warn("[Login] invalid credentials", logger.String("username", req.Username))
		writeError(w, http.StatusBadRequest, "Invalid username or password")
		return
	}

	token, err := h.tokens.Generate(user)
	if err != nil {
		logger.Error("[Login] failed to issue token", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	logger.Info("[Login] login succeeded", logger.String("username", user.Username))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
		"role":    user.Role,
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func (h *APIHandler) authenticate(next http.HandlerFunc, allowQuery bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok && allowQuery {
			token = r.URL.Query().Get("token")
			ok = token != ""
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		claims, err := h.tokens.Verify(token)
		if err != nil {
			logger.Debug("[Auth] token rejected", logger.String("path", r.URL.Path), logger.ErrorField(err))
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// AuthMiddleware rejects requests without a valid bearer token.
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return h.authenticate(next, false)
}

// QueryAuthMiddleware also accepts ?token=, for clients such as browser
// WebSockets that cannot set headers.
func (h *APIHandler) QueryAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return h.authenticate(next, true)
}

// RequireRole must run inside AuthMiddleware.
func RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if !claims.HasRole(role) {
			logger.Warn("[Auth] role required",
				logger.String("username", claims.Username),
				logger.String("role", claims.Role),
				logger.String("required", role))
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// ClaimsFromContext returns the identity set by AuthMiddleware.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

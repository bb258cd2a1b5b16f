// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/Kief5555/fileserver/internal/auth"
	"github.com/Kief5555/fileserver/internal/config"
	"github.com/Kief5555/fileserver/internal/events"
	"github.com/Kief5555/fileserver/internal/files"
	"github.com/Kief5555/fileserver/internal/logging"
	"github.com/Kief5555/fileserver/internal/metrics"
	"github.com/Kief5555/fileserver/internal/quota"
	"github.com/Kief5555/fileserver/internal/sharing"
	"github.com/Kief5555/fileserver/internal/store"
	"github.com/Kief5555/fileserver/internal/upload"
)

// privatePasswordKey is the settings key for the private tree password.
const privatePasswordKey = "private_password"

// Server is the HTTP server.
type Server struct {
	store       *store.Store
	root        *files.Root
	lister      *files.Lister
	ops         *files.Ops
	assembler   *upload.Assembler
	auth        *auth.Auth
	shares      *sharing.Store
	broadcaster *events.Broadcaster
	rateLimiter *quota.RateLimiter
	config      *config.Config
}

// NewServer creates a new server.
func NewServer(
	st *store.Store,
	root *files.Root,
	lister *files.Lister,
	ops *files.Ops,
	assembler *upload.Assembler,
	authHandler *auth.Auth,
	shares *sharing.Store,
	broadcaster *events.Broadcaster,
	rateLimiter *quota.RateLimiter,
	cfg *config.Config,
) *Server {
	return &Server{
		store:       st,
		root:        root,
		lister:      lister,
		ops:         ops,
		assembler:   assembler,
		auth:        authHandler,
		shares:      shares,
		broadcaster: broadcaster,
		rateLimiter: rateLimiter,
		config:      cfg,
	}
}

// Handler returns the HTTP handler with auth, rate limit, logging and
// metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Auth endpoints
	mux.HandleFunc("POST /api/auth/login", s.auth.HandleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.auth.HandleLogout)
	mux.HandleFunc("GET /api/auth/session", s.auth.HandleSession)

	// Listing and serving. The policy decides per-path what an anonymous
	// request may see, so these are not behind a login wall.
	mux.HandleFunc("GET /api/files", s.handleList)
	mux.HandleFunc("GET /api/files/{path...}", s.handleList)
	mux.HandleFunc("GET /files/{path...}", s.handleFile)

	// Mutations
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/delete", s.handleDelete)
	mux.HandleFunc("POST /api/rename", s.handleRename)
	mux.HandleFunc("POST /api/mkdir", s.handleMkdir)

	// Share links
	mux.HandleFunc("POST /api/share", s.handleCreateShare)
	mux.HandleFunc("GET /api/share", s.handleListShares)
	mux.HandleFunc("DELETE /api/share/{id}", s.handleRevokeShare)
	mux.HandleFunc("GET /u/{id}", s.handleShareDownload)
	mux.HandleFunc("POST /api/share/{id}/verify", s.handleShareVerify)

	// API keys
	mux.HandleFunc("POST /api/api-keys", s.handleCreateAPIKey)
	mux.HandleFunc("GET /api/api-keys", s.handleListAPIKeys)
	mux.HandleFunc("DELETE /api/api-keys/{id}", s.handleDeleteAPIKey)

	// Admin
	mux.HandleFunc("GET /api/admin/users", s.handleListUsers)
	mux.HandleFunc("POST /api/admin/users", s.handleCreateUser)
	mux.HandleFunc("PUT /api/admin/users/{userID}", s.handleUpdateUser)
	mux.HandleFunc("DELETE /api/admin/users/{userID}", s.handleDeleteUser)
	mux.HandleFunc("PUT /api/admin/users/{userID}/password", s.handleChangePassword)
	mux.HandleFunc("GET /api/admin/settings/{key}", s.handleGetSetting)
	mux.HandleFunc("PUT /api/admin/settings/{key}", s.handleSetSetting)

	// SSE endpoint
	mux.HandleFunc("GET /api/events", s.handleEvents)

	handler := s.auth.Middleware(mux)
	handler = s.rateLimitMiddleware(handler)
	return metrics.Middleware(logging.Middleware(handler))
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	rpm := s.config.RequestsPerMinute
	if rpm == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			client = host
		}
		if claims := auth.GetClaims(r.Context()); claims != nil {
			client = fmt.Sprintf("user:%d", claims.UserID)
		}
		if !s.rateLimiter.Allow(client, rpm) {
			metrics.RecordRateLimitHit()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", s.rateLimiter.RetryAfter(client, rpm)))
			s.sendError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) publishEvent(eventType, path, newPath string, size int64) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.Event{
		Type:    eventType,
		Path:    path,
		NewPath: newPath,
		Size:    size,
	})
}

// ─── Policy helpers ─────────────────────────────────────────────────────────

// actor loads the capability flags for the current session, nil for
// anonymous requests.
func (s *Server) actor(r *http.Request) (*files.Actor, error) {
	return s.auth.ActorForClaims(r.Context(), auth.GetClaims(r.Context()))
}

// authorize runs the access policy for a logical path and operation. The
// shared password may arrive as a query parameter or header.
func (s *Server) authorize(r *http.Request, logical string, actor *files.Actor, op files.Op) error {
	supplied := r.URL.Query().Get("password")
	if supplied == "" {
		supplied = r.Header.Get("X-Private-Password")
	}
	privatePassword, err := s.store.GetSetting(r.Context(), privatePasswordKey)
	if err != nil {
		return err
	}
	return files.Authorize(logical, actor, supplied, privatePassword, op)
}

// ─── Error responses ────────────────────────────────────────────────────────

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
		"code":  code,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// sendDomainError maps domain errors onto HTTP status codes.
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, files.ErrInvalidPath):
		s.sendError(w, http.StatusBadRequest, "invalid path")
	case errors.Is(err, files.ErrUnauthorized):
		s.sendError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, files.ErrNoPermissions):
		s.sendError(w, http.StatusForbidden, "no_permissions")
	case errors.Is(err, files.ErrForbidden):
		s.sendError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, files.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "not found")
	case errors.Is(err, files.ErrNotADirectory):
		s.sendError(w, http.StatusBadRequest, "not a directory")
	case errors.Is(err, files.ErrExists):
		s.sendError(w, http.StatusConflict, "already exists")
	case errors.Is(err, sharing.ErrInvalidPassword):
		s.sendError(w, http.StatusUnauthorized, "invalid password")
	case errors.Is(err, auth.ErrAdminImmutable):
		s.sendError(w, http.StatusForbidden, "admin accounts cannot be modified")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
	default:
		logging.Error("request failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

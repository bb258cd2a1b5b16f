package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Kief5555/fileserver/internal/auth"
	"github.com/Kief5555/fileserver/internal/files"
)

// requireAdmin loads the actor and enforces admin. Returns nil after
// writing the error response when the check fails.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) *files.Actor {
	actor, err := s.actor(r)
	if err != nil {
		s.sendDomainError(w, err)
		return nil
	}
	if actor == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return nil
	}
	if !actor.IsAdmin {
		s.sendError(w, http.StatusForbidden, "admin access required")
		return nil
	}
	return actor
}

// requireSession loads the actor and enforces a login.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) *files.Actor {
	actor, err := s.actor(r)
	if err != nil {
		s.sendDomainError(w, err)
		return nil
	}
	if actor == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return nil
	}
	return actor
}

// ─── Users ──────────────────────────────────────────────────────────────────

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r) == nil {
		return
	}
	users, err := s.auth.ListUsers(r.Context())
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	s.sendJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r) == nil {
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		IsAdmin  bool   `json:"is_admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		s.sendError(w, http.StatusBadRequest, "username and password required")
		return
	}
	if err := s.auth.CreateUser(r.Context(), req.Username, req.Password, req.IsAdmin); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, map[string]interface{}{
		"username": req.Username,
	})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r) == nil {
		return
	}
	userID, err := strconv.Atoi(r.PathValue("userID"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var perms auth.Permissions
	if err := json.NewDecoder(r.Body).Decode(&perms); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.auth.UpdatePermissions(r.Context(), userID, perms); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"id":      userID,
		"updated": true,
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r) == nil {
		return
	}
	userID, err := strconv.Atoi(r.PathValue("userID"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.auth.DeleteUser(r.Context(), userID); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"id":      userID,
		"deleted": true,
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	actor := s.requireSession(w, r)
	if actor == nil {
		return
	}
	userID, err := strconv.Atoi(r.PathValue("userID"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	// Users change their own password; admins change anyone's.
	if userID != actor.UserID && !actor.IsAdmin {
		s.sendError(w, http.StatusForbidden, "admin access required")
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		s.sendError(w, http.StatusBadRequest, "password required")
		return
	}
	if err := s.auth.ChangePassword(r.Context(), userID, req.Password); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"id":      userID,
		"changed": true,
	})
}

// ─── Settings ───────────────────────────────────────────────────────────────

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r) == nil {
		return
	}
	key := r.PathValue("key")
	value, err := s.store.GetSetting(r.Context(), key)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	if s.requireAdmin(w, r) == nil {
		return
	}
	key := r.PathValue("key")
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.SetSetting(r.Context(), key, req.Value); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"value": req.Value,
	})
}

// ─── API keys ───────────────────────────────────────────────────────────────

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	actor := s.requireSession(w, r)
	if actor == nil {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name required")
		return
	}
	key, err := s.auth.CreateAPIKey(r.Context(), actor.UserID, req.Name)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	// The plaintext key is returned exactly once.
	s.sendJSON(w, http.StatusCreated, map[string]interface{}{
		"name": req.Name,
		"key":  key,
	})
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	actor := s.requireSession(w, r)
	if actor == nil {
		return
	}
	keys, err := s.auth.ListAPIKeys(r.Context(), actor.UserID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if keys == nil {
		keys = []auth.APIKey{}
	}
	s.sendJSON(w, http.StatusOK, keys)
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	actor := s.requireSession(w, r)
	if actor == nil {
		return
	}
	keyID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid key id")
		return
	}
	if err := s.auth.DeleteAPIKey(r.Context(), actor.UserID, keyID); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"id":      keyID,
		"deleted": true,
	})
}

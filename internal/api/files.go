package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Kief5555/fileserver/internal/events"
	"github.com/Kief5555/fileserver/internal/files"
	"github.com/Kief5555/fileserver/internal/logging"
)

// ─── Listing ────────────────────────────────────────────────────────────────

// handleList serves GET /api/files/{path...}. Directories return a JSON
// listing; a path that resolves to a regular file falls through to
// content serving, so one endpoint covers both.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	logical := files.Normalize(r.PathValue("path"))

	actor, err := s.actor(r)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if err := s.authorize(r, logical, actor, files.OpRead); err != nil {
		s.sendDomainError(w, err)
		return
	}

	entries, err := s.lister.List(r.Context(), logical)
	if errors.Is(err, files.ErrNotADirectory) {
		s.serveContent(w, r, logical)
		return
	}
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"path":    logical,
		"entries": entries,
	})
}

// handleFile serves GET /files/{path...}, raw content only. Directory
// paths redirect to the listing endpoint.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	logical := files.Normalize(r.PathValue("path"))

	actor, err := s.actor(r)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if err := s.authorize(r, logical, actor, files.OpRead); err != nil {
		s.sendDomainError(w, err)
		return
	}

	_, info, err := s.ops.Stat(logical)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if info.IsDir() {
		http.Redirect(w, r, listingURL(logical, r.URL.RawQuery), http.StatusTemporaryRedirect)
		return
	}
	s.serveContent(w, r, logical)
}

// listingURL builds the listing endpoint for a directory hit on the raw
// file route. The query string rides along so a private-tree password
// survives the redirect.
func listingURL(logical, rawQuery string) string {
	target := "/api/files/" + logical
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// ─── Mutations ──────────────────────────────────────────────────────────────

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	logical := files.Normalize(req.Path)

	actor, err := s.actor(r)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if err := s.authorize(r, logical, actor, files.OpDelete); err != nil {
		s.sendDomainError(w, err)
		return
	}

	if err := s.ops.Delete(r.Context(), logical); err != nil {
		s.sendDomainError(w, err)
		return
	}

	logging.Info("file deleted",
		zap.String("path", logical),
		zap.String("user", actor.Username))
	s.publishEvent(events.EventDelete, logical, "", 0)

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"path":    logical,
		"deleted": true,
	})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string `json:"path"`
		NewName string `json:"new_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	logical := files.Normalize(req.Path)

	actor, err := s.actor(r)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if err := s.authorize(r, logical, actor, files.OpRename); err != nil {
		s.sendDomainError(w, err)
		return
	}

	newPath, err := s.ops.Rename(r.Context(), logical, req.NewName)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	logging.Info("file renamed",
		zap.String("path", logical),
		zap.String("new_path", newPath),
		zap.String("user", actor.Username))
	s.publishEvent(events.EventRename, logical, newPath, 0)

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"path":     logical,
		"new_path": newPath,
	})
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	logical := files.Normalize(req.Path)

	actor, err := s.actor(r)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if err := s.authorize(r, logical, actor, files.OpUpload); err != nil {
		s.sendDomainError(w, err)
		return
	}

	if err := s.ops.Mkdir(r.Context(), logical); err != nil {
		s.sendDomainError(w, err)
		return
	}

	logging.Info("directory created",
		zap.String("path", logical),
		zap.String("user", actor.Username))
	s.publishEvent(events.EventMkdir, logical, "", 0)

	s.sendJSON(w, http.StatusCreated, map[string]interface{}{
		"path":  logical,
		"isDir": true,
	})
}

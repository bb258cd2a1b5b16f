package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Kief5555/fileserver/internal/files"
	"github.com/Kief5555/fileserver/internal/logging"
	"github.com/Kief5555/fileserver/internal/metrics"
	"github.com/Kief5555/fileserver/internal/sharing"
)

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path      string `json:"path"`
		Password  string `json:"password"`
		ExpiresIn int    `json:"expires_in"` // hours, 0 = never
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
	// Sharing requires readability of the target for the creator.
	if err := s.authorize(r, logical, actor, files.OpShare); err != nil {
		s.sendDomainError(w, err)
		return
	}

	link, err := s.shares.Create(r.Context(), logical, req.Password, req.ExpiresIn, actor)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	s.sendJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         link.ID,
		"url":        scheme + "://" + r.Host + "/u/" + link.ID,
		"path":       link.FilePath,
		"expires_at": link.ExpiresAt,
	})
}

func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	links, err := s.shares.ListForActor(r.Context(), actor)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if links == nil {
		links = []sharing.ShareLink{}
	}
	s.sendJSON(w, http.StatusOK, links)
}

func (s *Server) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	actor, err := s.actor(r)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if err := s.shares.Revoke(r.Context(), id, actor); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"revoked": true,
	})
}

// handleShareDownload serves GET /u/{id}: the public download path.
// Password-protected links take the password as a query parameter; the
// verify endpoint lets a client check it without starting the transfer.
func (s *Server) handleShareDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	password := r.URL.Query().Get("password")

	desc, err := s.shares.Resolve(r.Context(), id, password)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	logging.Info("share download",
		zap.String("id", id),
		zap.String("name", desc.Name))
	metrics.RecordShareDownload()

	s.streamFile(w, r, desc.AbsPath, desc.Name, desc.Size)
}

// handleShareVerify checks a password against a share link without
// transferring content.
func (s *Server) handleShareVerify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Password string `json:"password"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	desc, err := s.shares.Resolve(r.Context(), id, req.Password)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"id":       id,
		"name":     desc.Name,
		"size":     desc.Size,
		"mimetype": desc.MimeType,
	})
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/Kief5555/fileserver/internal/events"
	"github.com/Kief5555/fileserver/internal/files"
	"github.com/Kief5555/fileserver/internal/logging"
	"github.com/Kief5555/fileserver/internal/upload"
)

// handleUpload serves POST /api/upload. The body is multipart form data
// with a "file" part. Chunked transfers additionally carry identifier,
// chunkIndex, totalChunks and fileName fields; the final chunk's arrival
// triggers reassembly. Plain uploads omit the chunk fields.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	targetDir := files.Normalize(r.URL.Query().Get("path"))

	actor, err := s.actor(r)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if err := s.authorize(r, targetDir, actor, files.OpUpload); err != nil {
		s.sendDomainError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload too large: max %d bytes", s.config.MaxUploadSize))
			return
		}
		s.sendError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()

	identifier := r.FormValue("identifier")
	if identifier == "" {
		// Plain upload: write straight through.
		size, err := s.assembler.WriteWhole(r.Context(), targetDir, header.Filename, file)
		if err != nil {
			s.sendDomainError(w, err)
			return
		}
		logging.Info("file uploaded",
			zap.String("dir", targetDir),
			zap.String("name", header.Filename),
			zap.Int64("size", size),
			zap.String("user", actor.Username))
		s.publishEvent(events.EventUpload, joinLogical(targetDir, header.Filename), "", size)
		s.sendJSON(w, http.StatusCreated, map[string]interface{}{
			"message": "Uploaded and merged",
			"size":    size,
		})
		return
	}

	index, err := strconv.Atoi(r.FormValue("chunkIndex"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid chunkIndex")
		return
	}
	total, err := strconv.Atoi(r.FormValue("totalChunks"))
	if err != nil || total < 1 {
		s.sendError(w, http.StatusBadRequest, "invalid totalChunks")
		return
	}
	fileName := r.FormValue("fileName")
	if fileName == "" {
		fileName = header.Filename
	}

	result, err := s.assembler.ReceiveChunk(r.Context(), identifier, index, total, file, targetDir, fileName)
	if err != nil {
		var missing *upload.ChunkMissingError
		if errors.As(err, &missing) {
			s.sendError(w, http.StatusBadRequest,
				fmt.Sprintf("Chunk %d missing", missing.Index))
			return
		}
		s.sendDomainError(w, err)
		return
	}

	if result == upload.ChunkAccepted {
		s.sendJSON(w, http.StatusOK, map[string]interface{}{
			"message": fmt.Sprintf("Chunk %d received", index),
		})
		return
	}

	logical := joinLogical(targetDir, fileName)
	var size int64
	if _, info, err := s.ops.Stat(logical); err == nil {
		size = info.Size()
	}
	logging.Info("upload completed",
		zap.String("path", logical),
		zap.Int("chunks", total),
		zap.Int64("size", size),
		zap.String("user", actor.Username))
	s.publishEvent(events.EventUpload, logical, "", size)

	s.sendJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Uploaded and merged",
		"size":    size,
	})
}

func joinLogical(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

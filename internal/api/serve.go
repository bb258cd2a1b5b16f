package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/Kief5555/fileserver/internal/files"
	"github.com/Kief5555/fileserver/internal/logging"
	"github.com/Kief5555/fileserver/internal/metrics"
)

// Package-level compiled regex for Range header parsing.
var rangeRegex = regexp.MustCompile(`bytes=(\d*)-(\d*)`)

// largeFileThreshold is the size above which responses are always
// streamed with an attachment disposition. Whole-file buffering or
// inline rendering of multi-gigabyte files ties up memory and browsers.
const largeFileThreshold = 2 << 30

// serveContent streams a file at a logical path, honoring Range
// requests. The caller has already authorized the read.
func (s *Server) serveContent(w http.ResponseWriter, r *http.Request, logical string) {
	abs, info, err := s.ops.Stat(logical)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if info.IsDir() {
		s.sendDomainError(w, files.ErrNotFound)
		return
	}
	s.streamFile(w, r, abs, info.Name(), info.Size())
}

// streamFile is the shared range-aware serving path used by direct
// downloads and share links.
func (s *Server) streamFile(w http.ResponseWriter, r *http.Request, abs, name string, totalSize int64) {
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.sendDomainError(w, files.ErrNotFound)
			return
		}
		s.sendDomainError(w, err)
		return
	}
	defer f.Close()

	forceDownload := r.URL.Query().Get("download") == "1"
	large := totalSize > largeFileThreshold

	w.Header().Set("Content-Type", files.MimeByName(name))
	w.Header().Set("Accept-Ranges", "bytes")
	if forceDownload || large {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", path.Base(name)))
	}

	offset, length, hasRange, ok := parseRangeHeader(r.Header.Get("Range"), totalSize)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", totalSize))
		s.sendError(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
		return
	}

	if hasRange {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			s.sendDomainError(w, err)
			return
		}
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, totalSize))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		length = totalSize
		w.Header().Set("Content-Length", strconv.FormatInt(totalSize, 10))
		w.WriteHeader(http.StatusOK)
	}

	n, err := io.Copy(w, io.LimitReader(f, length))
	if err != nil {
		// Aborted downloads are routine, especially for media seeks.
		logging.Warn("content transfer interrupted",
			zap.String("path", abs),
			zap.Int64("sent", n),
			zap.Error(err))
	}
	metrics.RecordDownload(n, err == nil)
}

// parseRangeHeader parses a single-range Range header against the file
// size. Returns ok=false when the requested range cannot be satisfied.
func parseRangeHeader(header string, totalSize int64) (offset, length int64, hasRange, ok bool) {
	if header == "" {
		return 0, 0, false, true
	}
	m := rangeRegex.FindStringSubmatch(header)
	if m == nil {
		return 0, 0, false, true
	}

	startStr, endStr := m[1], m[2]
	switch {
	case startStr == "" && endStr == "":
		return 0, 0, false, true
	case startStr == "":
		// Suffix range: last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false, false
		}
		if n > totalSize {
			n = totalSize
		}
		return totalSize - n, n, true, true
	default:
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || start >= totalSize {
			return 0, 0, false, false
		}
		end := totalSize - 1
		if endStr != "" {
			end, err = strconv.ParseInt(endStr, 10, 64)
			if err != nil || end < start {
				return 0, 0, false, false
			}
			if end >= totalSize {
				end = totalSize - 1
			}
		}
		return start, end - start + 1, true, true
	}
}

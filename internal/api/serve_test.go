package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestParseRangeHeader(t *testing.T) {
	const size = 1000

	tests := []struct {
		name     string
		header   string
		offset   int64
		length   int64
		hasRange bool
		ok       bool
	}{
		{"no header", "", 0, 0, false, true},
		{"full range", "bytes=0-999", 0, 1000, true, true},
		{"middle", "bytes=500-999", 500, 500, true, true},
		{"open ended", "bytes=200-", 200, 800, true, true},
		{"suffix", "bytes=-100", 900, 100, true, true},
		{"suffix larger than file", "bytes=-5000", 0, 1000, true, true},
		{"end clamped", "bytes=900-5000", 900, 100, true, true},
		{"start at size", "bytes=1000-1005", 0, 0, false, false},
		{"start beyond size", "bytes=2000-", 0, 0, false, false},
		{"inverted", "bytes=500-200", 0, 0, false, false},
		{"malformed", "bytes=abc", 0, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offset, length, hasRange, ok := parseRangeHeader(tt.header, size)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if offset != tt.offset || length != tt.length || hasRange != tt.hasRange {
				t.Errorf("got (%d, %d, %v), want (%d, %d, %v)",
					offset, length, hasRange, tt.offset, tt.length, tt.hasRange)
			}
		})
	}
}

func tempFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStreamFileWhole(t *testing.T) {
	s := &Server{}
	path := tempFile(t, 1000)

	r := httptest.NewRequest(http.MethodGet, "/files/data.bin", nil)
	w := httptest.NewRecorder()
	s.streamFile(w, r, path, "data.bin", 1000)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Length"); got != "1000" {
		t.Errorf("Content-Length = %q, want 1000", got)
	}
	if got := w.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q, want bytes", got)
	}
	if w.Body.Len() != 1000 {
		t.Errorf("body length = %d, want 1000", w.Body.Len())
	}
	if w.Header().Get("Content-Disposition") != "" {
		t.Error("unexpected attachment disposition on inline response")
	}
}

func TestStreamFilePartial(t *testing.T) {
	s := &Server{}
	path := tempFile(t, 1000)

	r := httptest.NewRequest(http.MethodGet, "/files/data.bin", nil)
	r.Header.Set("Range", "bytes=500-999")
	w := httptest.NewRecorder()
	s.streamFile(w, r, path, "data.bin", 1000)

	if w.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", w.Code)
	}
	if got := w.Header().Get("Content-Range"); got != "bytes 500-999/1000" {
		t.Errorf("Content-Range = %q, want bytes 500-999/1000", got)
	}
	if w.Body.Len() != 500 {
		t.Errorf("body length = %d, want 500", w.Body.Len())
	}
	// The slice must come from the requested offset.
	want := make([]byte, 500)
	for i := range want {
		want[i] = byte((500 + i) % 251)
	}
	if !bytes.Equal(w.Body.Bytes(), want) {
		t.Error("partial body does not match the requested range")
	}
}

func TestStreamFileUnsatisfiableRange(t *testing.T) {
	s := &Server{}
	path := tempFile(t, 1000)

	r := httptest.NewRequest(http.MethodGet, "/files/data.bin", nil)
	r.Header.Set("Range", "bytes=1000-1005")
	w := httptest.NewRecorder()
	s.streamFile(w, r, path, "data.bin", 1000)

	if w.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", w.Code)
	}
	if got := w.Header().Get("Content-Range"); got != "bytes */1000" {
		t.Errorf("Content-Range = %q, want bytes */1000", got)
	}
}

func TestStreamFileForceDownload(t *testing.T) {
	s := &Server{}
	path := tempFile(t, 100)

	r := httptest.NewRequest(http.MethodGet, "/files/data.bin?download=1", nil)
	w := httptest.NewRecorder()
	s.streamFile(w, r, path, "data.bin", 100)

	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="data.bin"` {
		t.Errorf("Content-Disposition = %q", got)
	}
}

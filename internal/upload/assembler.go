// Package upload implements chunked resumable upload reassembly: chunks
// arrive as independent requests in any order, are staged per upload
// identifier, and are concatenated into the destination file when the
// last-indexed chunk arrives.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kief5555/fileserver/internal/files"
	"github.com/Kief5555/fileserver/internal/logging"
	"github.com/Kief5555/fileserver/internal/metrics"
)

const (
	staleStagingAge = 24 * time.Hour
	cleanupInterval = 1 * time.Hour
)

// Result reports the outcome of ReceiveChunk.
type Result int

const (
	// ChunkAccepted means the chunk was staged; more chunks are expected.
	ChunkAccepted Result = iota
	// AssemblyComplete means the final chunk arrived and the destination
	// file has been written.
	AssemblyComplete
)

// ChunkMissingError reports a gap found at assembly time. Staged chunks
// are retained so the client can resend just the missing one.
type ChunkMissingError struct {
	Index int
}

func (e *ChunkMissingError) Error() string {
	return fmt.Sprintf("chunk %d missing", e.Index)
}

// Assembler stages upload chunks and merges them into their destination.
// Chunk writes for one identifier may run concurrently; assembly is
// serialized per identifier.
type Assembler struct {
	root    *files.Root
	tempDir string
	cache   files.SizeCache

	mu    sync.Mutex
	locks map[string]*idLock
}

// idLock serializes assembly per identifier. refs counts holders plus
// waiters so the map entry is dropped exactly when the last one releases;
// identifiers are client-chosen and must not accumulate.
type idLock struct {
	sync.Mutex
	refs int
}

// New creates an Assembler staging under tempDir.
func New(root *files.Root, tempDir string, cache files.SizeCache) (*Assembler, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Assembler{
		root:    root,
		tempDir: tempDir,
		cache:   cache,
		locks:   make(map[string]*idLock),
	}, nil
}

// acquireLock takes the per-identifier assembly mutex, creating it on
// first use.
func (a *Assembler) acquireLock(identifier string) *idLock {
	a.mu.Lock()
	l, ok := a.locks[identifier]
	if !ok {
		l = &idLock{}
		a.locks[identifier] = l
	}
	l.refs++
	a.mu.Unlock()

	l.Lock()
	return l
}

// releaseLock unlocks l and removes the map entry once no other goroutine
// holds or waits on it.
func (a *Assembler) releaseLock(identifier string, l *idLock) {
	l.Unlock()

	a.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(a.locks, identifier)
	}
	a.mu.Unlock()
}

func (a *Assembler) stagingDir(identifier string) string {
	return filepath.Join(a.tempDir, identifier)
}

// ReceiveChunk stages one chunk of an upload. The chunk whose index equals
// totalChunks-1 triggers assembly: every slot 0..totalChunks-1 must be
// staged, the chunks are concatenated in ascending index order into
// targetDir/fileName, and the staging area is removed. A resend of the
// same index before assembly overwrites the staged bytes (idempotent
// retry).
func (a *Assembler) ReceiveChunk(ctx context.Context, identifier string, index, total int, payload io.Reader, targetDir, fileName string) (Result, error) {
	if err := files.ValidateName(identifier); err != nil {
		return 0, err
	}
	if err := files.ValidateName(fileName); err != nil {
		return 0, err
	}
	if index < 0 || total <= 0 || index >= total {
		return 0, files.ErrInvalidPath
	}

	dirAbs, err := a.root.Resolve(targetDir)
	if err != nil {
		return 0, err
	}
	if info, err := os.Stat(dirAbs); err != nil {
		if os.IsNotExist(err) {
			return 0, files.ErrNotFound
		}
		return 0, fmt.Errorf("stat target dir: %w", err)
	} else if !info.IsDir() {
		return 0, files.ErrNotADirectory
	}

	chunkDir := a.stagingDir(identifier)
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return 0, fmt.Errorf("create chunk dir: %w", err)
	}

	chunkPath := filepath.Join(chunkDir, strconv.Itoa(index))
	if err := writeFileAtomic(chunkPath, payload); err != nil {
		return 0, fmt.Errorf("stage chunk %d: %w", index, err)
	}
	metrics.RecordChunkReceived()

	if index != total-1 {
		return ChunkAccepted, nil
	}

	// Final chunk arrived: merge. Serialized per identifier so two
	// concurrent triggers cannot double-concatenate or race on the
	// destination removal.
	lock := a.acquireLock(identifier)
	defer a.releaseLock(identifier, lock)

	if err := a.assemble(ctx, identifier, total, filepath.Join(dirAbs, fileName)); err != nil {
		metrics.RecordAssembly(false)
		return 0, err
	}
	metrics.RecordAssembly(true)

	a.cache.Invalidate(files.Normalize(targetDir))
	return AssemblyComplete, nil
}

// assemble concatenates staged chunks 0..total-1 into dest and removes the
// staging area. On a missing chunk the staging area is left intact.
func (a *Assembler) assemble(ctx context.Context, identifier string, total int, dest string) error {
	chunkDir := a.stagingDir(identifier)

	for i := 0; i < total; i++ {
		if _, err := os.Stat(filepath.Join(chunkDir, strconv.Itoa(i))); err != nil {
			if os.IsNotExist(err) {
				return &ChunkMissingError{Index: i}
			}
			return fmt.Errorf("stat chunk %d: %w", i, err)
		}
	}

	// A failed prior attempt must not leave stale bytes mixed with new
	// content.
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove previous destination: %w", err)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	var written int64
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			out.Close()
			return err
		}
		chunkPath := filepath.Join(chunkDir, strconv.Itoa(i))
		in, err := os.Open(chunkPath)
		if err != nil {
			out.Close()
			return fmt.Errorf("open chunk %d: %w", i, err)
		}
		n, err := io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			return fmt.Errorf("append chunk %d: %w", i, err)
		}
		written += n
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}

	if err := os.RemoveAll(chunkDir); err != nil {
		logging.Warn("staging cleanup failed",
			zap.String("identifier", identifier), zap.Error(err))
	}

	logging.Info("upload assembled",
		zap.String("identifier", identifier),
		zap.String("dest", filepath.Base(dest)),
		zap.Int("chunks", total),
		zap.Int64("bytes", written))
	metrics.RecordUpload(written, true)
	return nil
}

// WriteWhole handles the non-chunked degenerate case: the full payload in
// one request, subject to the same filename and containment validation.
func (a *Assembler) WriteWhole(ctx context.Context, targetDir, fileName string, payload io.Reader) (int64, error) {
	if err := files.ValidateName(fileName); err != nil {
		return 0, err
	}

	dirAbs, err := a.root.Resolve(targetDir)
	if err != nil {
		return 0, err
	}
	if info, err := os.Stat(dirAbs); err != nil {
		if os.IsNotExist(err) {
			return 0, files.ErrNotFound
		}
		return 0, fmt.Errorf("stat target dir: %w", err)
	} else if !info.IsDir() {
		return 0, files.ErrNotADirectory
	}

	dest := filepath.Join(dirAbs, fileName)
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}
	n, err := io.Copy(out, payload)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		metrics.RecordUpload(0, false)
		return 0, fmt.Errorf("write %s: %w", fileName, err)
	}

	a.cache.Invalidate(files.Normalize(targetDir))
	metrics.RecordUpload(n, true)
	return n, nil
}

// Abandon removes the staging area for an identifier. It serializes with
// assembly so a concurrent final chunk cannot see a half-removed staging
// directory.
func (a *Assembler) Abandon(identifier string) error {
	if err := files.ValidateName(identifier); err != nil {
		return err
	}
	lock := a.acquireLock(identifier)
	defer a.releaseLock(identifier, lock)
	return os.RemoveAll(a.stagingDir(identifier))
}

// StartCleanup starts the background goroutine that removes staging
// directories whose uploads were abandoned.
func (a *Assembler) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.cleanupStale()
			}
		}
	}()
}

func (a *Assembler) cleanupStale() {
	dirents, err := os.ReadDir(a.tempDir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-staleStagingAge)
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.tempDir, d.Name())); err == nil {
			logging.Info("removed stale upload staging", zap.String("identifier", d.Name()))
		}
	}
}

// writeFileAtomic writes payload to path via a temp file and rename, so a
// concurrent resend of the same chunk never exposes a half-written file.
func writeFileAtomic(path string, payload io.Reader) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".chunk-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

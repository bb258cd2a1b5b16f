package files

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Kief5555/fileserver/internal/metrics"
)

// Entry describes one immediate child of a listed directory. Directory
// sizes are recursive byte totals of all regular files beneath.
type Entry struct {
	Name        string    `json:"name"`
	IsDirectory bool      `json:"isDirectory"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mimetype"`
	ModifiedAt  time.Time `json:"modified"`
}

// Lister enumerates directory children, serving recursive directory sizes
// from a SizeCache. Callers are expected to have passed Resolve and
// Authorize already.
type Lister struct {
	root  *Root
	cache SizeCache
}

// NewLister creates a Lister over root backed by cache.
func NewLister(root *Root, cache SizeCache) *Lister {
	return &Lister{root: root, cache: cache}
}

// List returns the immediate children of the directory at the logical
// path. It fails with ErrNotFound if the path does not exist and
// ErrNotADirectory if it is a regular file. No ordering is imposed.
func (l *Lister) List(ctx context.Context, logical string) ([]Entry, error) {
	abs, err := l.root.Resolve(logical)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", logical, err)
	}
	if !info.IsDir() {
		return nil, ErrNotADirectory
	}

	dirents, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", logical, err)
	}

	rel := Normalize(logical)
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		// Dot entries cover the chunk staging dir among others.
		if strings.HasPrefix(d.Name(), ".") {
			continue
		}
		childInfo, err := d.Info()
		if err != nil {
			continue
		}
		childRel := d.Name()
		if rel != "" {
			childRel = rel + "/" + d.Name()
		}

		var size int64
		if d.IsDir() {
			size, err = l.folderSize(ctx, childRel, filepath.Join(abs, d.Name()))
			if err != nil {
				return nil, err
			}
		} else {
			size = childInfo.Size()
		}

		entries = append(entries, Entry{
			Name:        d.Name(),
			IsDirectory: d.IsDir(),
			Size:        size,
			MimeType:    MimeByName(d.Name()),
			ModifiedAt:  childInfo.ModTime(),
		})
	}
	return entries, nil
}

// folderSize returns the recursive size of a directory, from cache when
// present, else computed once and cached.
func (l *Lister) folderSize(ctx context.Context, rel, abs string) (int64, error) {
	if size, ok := l.cache.Get(rel); ok {
		metrics.RecordSizeCacheLookup(true)
		return size, nil
	}
	metrics.RecordSizeCacheLookup(false)

	start := time.Now()
	size, err := dirSizeRecursive(ctx, abs)
	if err != nil {
		return 0, err
	}
	metrics.RecordSizeCompute(time.Since(start))

	l.cache.Put(rel, size)
	return size, nil
}

func dirSizeRecursive(ctx context.Context, abs string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dirents, err := os.ReadDir(abs)
	if err != nil {
		return 0, fmt.Errorf("read dir %s: %w", abs, err)
	}
	var total int64
	for _, d := range dirents {
		child := filepath.Join(abs, d.Name())
		if d.IsDir() {
			sub, err := dirSizeRecursive(ctx, child)
			if err != nil {
				return 0, err
			}
			total += sub
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// MimeByName infers a MIME type from the file extension; unknown
// extensions map to a generic binary type.
func MimeByName(name string) string {
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

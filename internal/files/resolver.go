// Package files implements the path-safety and access-control core that
// mediates every filesystem operation: resolving client-supplied logical
// paths against a configured root with traversal protection, the layered
// authorization policy, directory listing with cached recursive folder
// sizes, and the delete/rename/mkdir operations.
package files

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Root is the single directory all served content lives under. It contains
// the two top-level trees "public" and "private". Every path-taking
// operation resolves through Root; there is exactly one containment check
// in the codebase and this is it.
type Root struct {
	abs string
}

// NewRoot resolves dir to an absolute path and ensures the public and
// private subtrees exist.
func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", dir, err)
	}
	for _, sub := range []string{"public", "private"} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s tree: %w", sub, err)
		}
	}
	return &Root{abs: abs}, nil
}

// Abs returns the absolute root directory.
func (r *Root) Abs() string { return r.abs }

// Resolve maps a slash-separated logical path to an absolute filesystem
// location guaranteed to be the root or a proper descendant of it.
//
// Rejection happens in two layers: any ".." in the raw string is refused
// before resolution, and the normalized result must either equal the root
// or extend it past a path separator. The separator requirement matters:
// a bare prefix match would accept a sibling like /srv/files-evil when the
// root is /srv/files.
func (r *Root) Resolve(logical string) (string, error) {
	if strings.Contains(logical, "..") {
		return "", ErrInvalidPath
	}
	logical = strings.Trim(path.Clean("/"+logical), "/")

	abs := filepath.Join(r.abs, filepath.FromSlash(logical))
	if abs != r.abs && !strings.HasPrefix(abs, r.abs+string(os.PathSeparator)) {
		return "", ErrInvalidPath
	}
	return abs, nil
}

// ResolveSegments joins path segments and resolves the result.
func (r *Root) ResolveSegments(segments []string) (string, error) {
	return r.Resolve(strings.Join(segments, "/"))
}

// Rel converts a resolved absolute path back to its logical form.
func (r *Root) Rel(abs string) string {
	rel, err := filepath.Rel(r.abs, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Normalize returns the canonical logical form of a client path: forward
// slashes, no leading/trailing slash, "" for the root itself. It does not
// validate containment; callers still go through Resolve.
func Normalize(logical string) string {
	logical = strings.ReplaceAll(logical, "\\", "/")
	return strings.Trim(path.Clean("/"+logical), "/")
}

// TopSegment returns the first segment of a logical path, or "" for the
// root itself.
func TopSegment(logical string) string {
	logical = Normalize(logical)
	if logical == "" {
		return ""
	}
	if i := strings.IndexByte(logical, '/'); i >= 0 {
		return logical[:i]
	}
	return logical
}

// ValidateName checks that name is a bare filename: no separators, no
// parent-traversal, not empty and not a dot entry.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidPath
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return ErrInvalidPath
	}
	return nil
}

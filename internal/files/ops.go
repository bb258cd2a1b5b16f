package files

import (
	"context"
	"fmt"
	"os"
	"path"
)

// Ops performs the mutating filesystem operations. Every mutation
// invalidates the folder-size cache chain before returning, so a
// subsequent listing is never served a stale size.
type Ops struct {
	root  *Root
	cache SizeCache
}

// NewOps creates an Ops over root backed by cache.
func NewOps(root *Root, cache SizeCache) *Ops {
	return &Ops{root: root, cache: cache}
}

// Stat resolves a logical path and stats it. Used by serving code to
// distinguish files from directories.
func (o *Ops) Stat(logical string) (string, os.FileInfo, error) {
	abs, err := o.root.Resolve(logical)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("stat %s: %w", logical, err)
	}
	return abs, info, nil
}

// Delete removes the file or directory at the logical path. Directories
// are removed recursively.
func (o *Ops) Delete(ctx context.Context, logical string) error {
	abs, err := o.root.Resolve(logical)
	if err != nil {
		return err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat %s: %w", logical, err)
	}

	if info.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", logical, err)
	}

	o.cache.Invalidate(Normalize(logical))
	return nil
}

// Rename renames the entry at the logical path to a new bare filename in
// the same directory. Fails with ErrExists if the destination is taken.
func (o *Ops) Rename(ctx context.Context, logical, newName string) (string, error) {
	if err := ValidateName(newName); err != nil {
		return "", err
	}

	oldAbs, err := o.root.Resolve(logical)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(oldAbs); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat %s: %w", logical, err)
	}

	// Re-derive the destination through the resolver rather than joining
	// locally, so the containment check stays in one place.
	rel := Normalize(logical)
	newLogical := newName
	if parent := path.Dir(rel); parent != "." {
		newLogical = parent + "/" + newName
	}
	newAbs, err := o.root.Resolve(newLogical)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(newAbs); err == nil {
		return "", ErrExists
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %s: %w", newLogical, err)
	}

	if err := os.Rename(oldAbs, newAbs); err != nil {
		return "", fmt.Errorf("rename %s: %w", logical, err)
	}

	o.cache.Invalidate(rel)
	return newLogical, nil
}

// Mkdir creates a directory at the logical path, including any missing
// parents.
func (o *Ops) Mkdir(ctx context.Context, logical string) error {
	abs, err := o.root.Resolve(logical)
	if err != nil {
		return err
	}
	if info, err := os.Stat(abs); err == nil {
		if info.IsDir() {
			return ErrExists
		}
		return ErrNotADirectory
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", logical, err)
	}
	o.cache.Invalidate(Normalize(logical))
	return nil
}

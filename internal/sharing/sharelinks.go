// Package sharing manages share links: opaque, unguessable identifiers
// bound to a file path, with optional password and expiry.
package sharing

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Kief5555/fileserver/internal/files"
	"github.com/Kief5555/fileserver/internal/logging"
	"github.com/Kief5555/fileserver/internal/metrics"
)

// ErrInvalidPassword means the share has a password and the supplied one
// does not match.
var ErrInvalidPassword = errors.New("invalid share password")

// ShareLink is one row of the shares table. Password is compared with
// plain equality: share passwords are a low-assurance convenience, not a
// credential. CreatedBy is nil for anonymous public-tree shares.
type ShareLink struct {
	ID        string     `json:"id"`
	FilePath  string     `json:"file_path"`
	Password  string     `json:"-"`
	CreatedBy *int       `json:"created_by,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// HasPassword reports whether the link is password-protected.
func (l *ShareLink) HasPassword() bool { return l.Password != "" }

// Expired reports whether the link's expiry is in the past. Expired links
// are treated as nonexistent.
func (l *ShareLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// CheckPassword verifies a supplied password. Links without a password
// accept anything.
func (l *ShareLink) CheckPassword(supplied string) bool {
	return l.Password == "" || l.Password == supplied
}

// RevocableBy reports whether the actor may revoke the link.
// Anonymous-created links are revocable by anyone holding the id;
// creator-bound links require the creator or an admin.
func (l *ShareLink) RevocableBy(actor *files.Actor) bool {
	if l.CreatedBy == nil {
		return true
	}
	if actor == nil {
		return false
	}
	return actor.IsAdmin || actor.UserID == *l.CreatedBy
}

// Descriptor describes a resolved share target, ready for streaming.
type Descriptor struct {
	AbsPath  string
	Name     string
	MimeType string
	Size     int64
}

// Store manages share links in the database.
type Store struct {
	db   *sql.DB
	root *files.Root
}

// NewStore creates a share link store.
func NewStore(db *sql.DB, root *files.Root) *Store {
	return &Store{db: db, root: root}
}

// Create issues a new share link for a logical path. The path must pass
// containment validation; private-tree paths require a session (creator),
// public-tree paths may be shared anonymously. expiresIn is in hours;
// zero means no expiry.
func (s *Store) Create(ctx context.Context, logical, password string, expiresIn int, creator *files.Actor) (*ShareLink, error) {
	logical = files.Normalize(logical)
	if _, err := s.root.Resolve(logical); err != nil {
		return nil, err
	}
	if files.TopSegment(logical) == "private" && creator == nil {
		return nil, files.ErrUnauthorized
	}

	id, err := generateShortID()
	if err != nil {
		return nil, fmt.Errorf("generate share id: %w", err)
	}

	link := &ShareLink{
		ID:        id,
		FilePath:  logical,
		Password:  password,
		CreatedAt: time.Now(),
	}
	if creator != nil {
		uid := creator.UserID
		link.CreatedBy = &uid
	}
	if expiresIn > 0 {
		t := time.Now().Add(time.Duration(expiresIn) * time.Hour)
		link.ExpiresAt = &t
	}

	var pw, createdBy, expiresAt any
	if link.Password != "" {
		pw = link.Password
	}
	if link.CreatedBy != nil {
		createdBy = *link.CreatedBy
	}
	if link.ExpiresAt != nil {
		expiresAt = *link.ExpiresAt
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO shares (id, file_path, password, created_by, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, logical, pw, createdBy, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert share: %w", err)
	}

	logging.Info("share link created",
		zap.String("id", id),
		zap.String("path", logical),
		zap.Bool("password", link.Password != ""),
		zap.Bool("anonymous", link.CreatedBy == nil))
	s.updateActiveCount(ctx)
	return link, nil
}

// Get returns a share link by id, or files.ErrNotFound. Expiry is not
// checked here; Resolve is the validating entry point.
func (s *Store) Get(ctx context.Context, id string) (*ShareLink, error) {
	var link ShareLink
	var password sql.NullString
	var createdBy sql.NullInt64
	var expiresAt sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT id, file_path, password, created_by, expires_at, created_at
		 FROM shares WHERE id = $1`, id).
		Scan(&link.ID, &link.FilePath, &password, &createdBy, &expiresAt, &link.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, files.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query share: %w", err)
	}

	if password.Valid {
		link.Password = password.String
	}
	if createdBy.Valid {
		uid := int(createdBy.Int64)
		link.CreatedBy = &uid
	}
	if expiresAt.Valid {
		link.ExpiresAt = &expiresAt.Time
	}
	return &link, nil
}

// Resolve validates a share id and password pair and returns a streaming
// descriptor for the target file. Missing or expired links both report
// files.ErrNotFound; expiry is lazy, the row may still exist.
func (s *Store) Resolve(ctx context.Context, id, suppliedPassword string) (*Descriptor, error) {
	link, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if link.Expired(time.Now()) {
		return nil, files.ErrNotFound
	}
	if !link.CheckPassword(suppliedPassword) {
		return nil, ErrInvalidPassword
	}

	abs, err := s.root.Resolve(link.FilePath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, files.ErrNotFound
		}
		return nil, fmt.Errorf("stat share target: %w", err)
	}
	if info.IsDir() {
		return nil, files.ErrNotFound
	}

	return &Descriptor{
		AbsPath:  abs,
		Name:     info.Name(),
		MimeType: files.MimeByName(info.Name()),
		Size:     info.Size(),
	}, nil
}

// Revoke deletes a share link, subject to RevocableBy.
func (s *Store) Revoke(ctx context.Context, id string, actor *files.Actor) error {
	link, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !link.RevocableBy(actor) {
		return files.ErrForbidden
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM shares WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	logging.Info("share link revoked", zap.String("id", id))
	s.updateActiveCount(ctx)
	return nil
}

// ListForActor returns the actor's share links, newest first. Admins see
// every link.
func (s *Store) ListForActor(ctx context.Context, actor *files.Actor) ([]ShareLink, error) {
	if actor == nil {
		return nil, files.ErrUnauthorized
	}

	query := `SELECT id, file_path, password, created_by, expires_at, created_at
	          FROM shares`
	args := []any{}
	if !actor.IsAdmin {
		query += ` WHERE created_by = $1`
		args = append(args, actor.UserID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var links []ShareLink
	for rows.Next() {
		var link ShareLink
		var password sql.NullString
		var createdBy sql.NullInt64
		var expiresAt sql.NullTime
		if err := rows.Scan(&link.ID, &link.FilePath, &password, &createdBy, &expiresAt, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		if password.Valid {
			link.Password = password.String
		}
		if createdBy.Valid {
			uid := int(createdBy.Int64)
			link.CreatedBy = &uid
		}
		if expiresAt.Valid {
			link.ExpiresAt = &expiresAt.Time
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (s *Store) updateActiveCount(ctx context.Context) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shares WHERE expires_at IS NULL OR expires_at > NOW()`).Scan(&count)
	if err == nil {
		metrics.SetShareLinksActive(count)
	}
}

// generateShortID returns a short random URL-safe id.
func generateShortID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Package auth provides cookie-based JWT sessions, API key
// authentication, and user account management.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Kief5555/fileserver/internal/files"
	"github.com/Kief5555/fileserver/internal/logging"
	"github.com/Kief5555/fileserver/internal/metrics"
)

const (
	sessionCookie = "token"
	sessionTTL    = 7 * 24 * time.Hour
	apiKeyPrefix  = "fs_"
)

// ErrAdminImmutable means the operation targeted an admin account.
// Admin permissions cannot be edited and admin accounts cannot be
// deleted through the API.
var ErrAdminImmutable = errors.New("admin accounts cannot be modified")

type contextKey string

const sessionContextKey contextKey = "session"

// Claims holds JWT token claims for a logged-in user.
type Claims struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Auth handles session and API key authentication.
type Auth struct {
	db     *sql.DB
	secret []byte
}

// New creates a new Auth handler.
func New(db *sql.DB, jwtSecret string) *Auth {
	return &Auth{
		db:     db,
		secret: []byte(jwtSecret),
	}
}

// Middleware resolves the session for every request, if one is present,
// and stores it in the request context. Requests without credentials
// pass through anonymous: the access policy decides per-path what an
// anonymous request may do.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := a.sessionFromRequest(r)
		if claims != nil {
			ctx := context.WithValue(r.Context(), sessionContextKey, claims)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// GetClaims extracts session claims from the request context, or nil for
// anonymous requests.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(sessionContextKey).(*Claims)
	return claims
}

// sessionFromRequest tries the API key header first, then the session
// cookie. Either may fail silently; an invalid credential is the same as
// no credential.
func (a *Auth) sessionFromRequest(r *http.Request) *Claims {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer "+apiKeyPrefix) {
		key := strings.TrimPrefix(auth, "Bearer ")
		if claims := a.claimsFromAPIKey(r.Context(), key); claims != nil {
			return claims
		}
		return nil
	}

	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	claims, err := a.validateToken(cookie.Value)
	if err != nil {
		return nil
	}
	return claims
}

func (a *Auth) claimsFromAPIKey(ctx context.Context, key string) *Claims {
	hash := HashAPIKey(key)
	var userID int
	var username string
	err := a.db.QueryRowContext(ctx,
		`SELECT u.id, u.username FROM api_keys k
		 JOIN users u ON u.id = k.user_id
		 WHERE k.key_hash = $1`, hash).Scan(&userID, &username)
	if err != nil {
		return nil
	}

	_, err = a.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = NOW() WHERE key_hash = $1`, hash)
	if err != nil {
		logging.Warn("failed to update api key usage", zap.Error(err))
	}
	return &Claims{UserID: userID, Username: username}
}

// ActorForClaims loads the capability flags for a session. Nil claims
// yield a nil actor.
func (a *Auth) ActorForClaims(ctx context.Context, claims *Claims) (*files.Actor, error) {
	if claims == nil {
		return nil, nil
	}
	actor := &files.Actor{UserID: claims.UserID, Username: claims.Username}
	err := a.db.QueryRowContext(ctx,
		`SELECT can_upload, can_delete, can_access_private, is_admin
		 FROM users WHERE id = $1`, claims.UserID).
		Scan(&actor.CanUpload, &actor.CanDelete, &actor.CanAccessPrivate, &actor.IsAdmin)
	if err == sql.ErrNoRows {
		return nil, nil // session outlived the account
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if actor.IsAdmin {
		actor.CanUpload = true
		actor.CanDelete = true
		actor.CanAccessPrivate = true
	}
	return actor, nil
}

// HandleLogin handles POST /api/auth/login.
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	var userID int
	var hashedPassword string
	err := a.db.QueryRowContext(r.Context(),
		`SELECT id, password FROM users WHERE username = $1`,
		req.Username).Scan(&userID, &hashedPassword)
	if err == sql.ErrNoRows {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed: unknown user", zap.String("username", req.Username))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Error("login database error", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "database error")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed: invalid password", zap.String("username", req.Username))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: req.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "fileserver",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Error("failed to sign token", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    tokenStr,
		Path:     "/",
		Expires:  claims.ExpiresAt.Time,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	metrics.RecordAuthAttempt(true)
	logging.Info("login successful", zap.String("username", req.Username))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user": map[string]interface{}{
			"id":       userID,
			"username": req.Username,
		},
	})
}

// HandleLogout handles POST /api/auth/logout by clearing the cookie.
func (a *Auth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleSession handles GET /api/auth/session, returning the current
// user with capability flags, or 401 for anonymous requests.
func (a *Auth) HandleSession(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	actor, err := a.ActorForClaims(r.Context(), claims)
	if err != nil {
		logging.Error("session lookup failed", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "database error")
		return
	}
	if actor == nil {
		sendAuthError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user": map[string]interface{}{
			"id":                 actor.UserID,
			"username":           actor.Username,
			"can_upload":         actor.CanUpload,
			"can_delete":         actor.CanDelete,
			"can_access_private": actor.CanAccessPrivate,
			"is_admin":           actor.IsAdmin,
		},
	})
}

// CreateUser creates a new user account.
func (a *Auth) CreateUser(ctx context.Context, username, password string, isAdmin bool) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO users (username, password, is_admin, can_upload, can_delete, can_access_private)
		 VALUES ($1, $2, $3, $3, $3, $3)`,
		username, string(hashed), isAdmin)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	logging.Info("user created", zap.String("username", username), zap.Bool("is_admin", isAdmin))
	return nil
}

// EnsureDefaultAdmin creates a default admin user if no users exist.
func (a *Auth) EnsureDefaultAdmin(ctx context.Context) error {
	var count int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}

	if count == 0 {
		logging.Warn("no users found, creating default admin (admin/admin)")
		logging.Warn("** change the default password immediately! **")
		return a.CreateUser(ctx, "admin", "admin", true)
	}
	return nil
}

// User represents a user account as seen by the admin API.
type User struct {
	ID               int       `json:"id"`
	Username         string    `json:"username"`
	CanUpload        bool      `json:"can_upload"`
	CanDelete        bool      `json:"can_delete"`
	CanAccessPrivate bool      `json:"can_access_private"`
	IsAdmin          bool      `json:"is_admin"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListUsers returns all users ordered by ID.
func (a *Auth) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, username, can_upload, can_delete, can_access_private, is_admin, created_at
		 FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.CanUpload, &u.CanDelete,
			&u.CanAccessPrivate, &u.IsAdmin, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Permissions is the editable subset of a user account.
type Permissions struct {
	CanUpload        bool `json:"can_upload"`
	CanDelete        bool `json:"can_delete"`
	CanAccessPrivate bool `json:"can_access_private"`
}

// UpdatePermissions sets the capability flags on a user. Admin accounts
// cannot be modified.
func (a *Auth) UpdatePermissions(ctx context.Context, userID int, perms Permissions) error {
	if err := checkMutable(a.userIsAdmin(ctx, userID)); err != nil {
		return err
	}

	_, err := a.db.ExecContext(ctx,
		`UPDATE users SET can_upload = $1, can_delete = $2, can_access_private = $3 WHERE id = $4`,
		perms.CanUpload, perms.CanDelete, perms.CanAccessPrivate, userID)
	if err != nil {
		return fmt.Errorf("update permissions: %w", err)
	}
	logging.Info("permissions updated", zap.Int("user_id", userID))
	return nil
}

// DeleteUser deletes a user by ID. Admin accounts cannot be deleted.
func (a *Auth) DeleteUser(ctx context.Context, userID int) error {
	if err := checkMutable(a.userIsAdmin(ctx, userID)); err != nil {
		return err
	}

	result, err := a.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return files.ErrNotFound
	}
	logging.Info("user deleted", zap.Int("user_id", userID))
	return nil
}

// ChangePassword changes the password for a user.
func (a *Auth) ChangePassword(ctx context.Context, userID int, newPassword string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	result, err := a.db.ExecContext(ctx,
		`UPDATE users SET password = $1 WHERE id = $2`, string(hashed), userID)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return files.ErrNotFound
	}
	logging.Info("password changed", zap.Int("user_id", userID))
	return nil
}

// checkMutable gates account mutation on the result of an userIsAdmin
// lookup. Admin accounts are locked against flag changes and deletion.
func checkMutable(isAdmin bool, lookupErr error) error {
	if lookupErr != nil {
		return lookupErr
	}
	if isAdmin {
		return ErrAdminImmutable
	}
	return nil
}

func (a *Auth) userIsAdmin(ctx context.Context, userID int) (bool, error) {
	var isAdmin bool
	err := a.db.QueryRowContext(ctx,
		`SELECT is_admin FROM users WHERE id = $1`, userID).Scan(&isAdmin)
	if err == sql.ErrNoRows {
		return false, files.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	return isAdmin, nil
}

func (a *Auth) validateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
		"code":  code,
	})
}

// HashAPIKey returns the stored form of an API key.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// GenerateAPIKey returns a new random API key in its presentable form.
// Only the hash is persisted; the plaintext is shown once.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// APIKey is the metadata row for a stored key. The key itself is never
// returned after creation.
type APIKey struct {
	ID         int        `json:"id"`
	Name       string     `json:"name"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CreateAPIKey issues a key for a user and returns the plaintext.
func (a *Auth) CreateAPIKey(ctx context.Context, userID int, name string) (string, error) {
	key, err := GenerateAPIKey()
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO api_keys (user_id, key_hash, name) VALUES ($1, $2, $3)`,
		userID, HashAPIKey(key), name)
	if err != nil {
		return "", fmt.Errorf("insert api key: %w", err)
	}
	logging.Info("api key created", zap.Int("user_id", userID), zap.String("name", name))
	return key, nil
}

// ListAPIKeys returns a user's keys, newest first.
func (a *Auth) ListAPIKeys(ctx context.Context, userID int) ([]APIKey, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, name, last_used_at, created_at FROM api_keys
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &lastUsed, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		if lastUsed.Valid {
			k.LastUsedAt = &lastUsed.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteAPIKey removes a key owned by the user.
func (a *Auth) DeleteAPIKey(ctx context.Context, userID, keyID int) error {
	result, err := a.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, keyID, userID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return files.ErrNotFound
	}
	return nil
}

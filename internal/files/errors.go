package files

import "errors"

// Sentinel errors for the path/access core. Handlers map these onto HTTP
// status codes; anything else is an internal I/O failure (500).
var (
	// ErrInvalidPath marks a traversal attempt, an absolute path, or a
	// malformed filename. The response must not reveal whether anything
	// exists outside the root.
	ErrInvalidPath = errors.New("invalid path")

	// ErrUnauthorized means no session where one is required.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoPermissions means a session exists but lacks private access.
	// Distinct from ErrUnauthorized so callers can render "logged in but
	// lacking rights" differently from "please log in".
	ErrNoPermissions = errors.New("no permissions")

	// ErrForbidden means a session exists but lacks the capability for a
	// write operation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means the path does not exist under the root.
	ErrNotFound = errors.New("not found")

	// ErrNotADirectory means the path exists but is a regular file. Not an
	// end-user error: list callers use it to fall through to file serving.
	ErrNotADirectory = errors.New("not a directory")

	// ErrExists means a rename destination already exists.
	ErrExists = errors.New("already exists")
)

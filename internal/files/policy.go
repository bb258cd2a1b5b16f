package files

// Op identifies the operation being authorized.
type Op int

const (
	OpRead Op = iota
	OpUpload
	OpDelete
	OpRename
	OpShare
)

func (op Op) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpUpload:
		return "upload"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	case OpShare:
		return "share"
	}
	return "unknown"
}

// Mutating reports whether the operation writes to the tree.
func (op Op) Mutating() bool {
	return op == OpUpload || op == OpDelete || op == OpRename
}

// Actor is the acting user resolved from a session, carrying the four
// capability flags. A nil *Actor means anonymous.
type Actor struct {
	UserID           int
	Username         string
	CanUpload        bool
	CanDelete        bool
	CanAccessPrivate bool
	IsAdmin          bool
}

func (a *Actor) capabilityFor(op Op) bool {
	switch op {
	case OpUpload, OpRename:
		// Rename is a write to the containing directory; it rides on the
		// upload capability.
		return a.CanUpload
	case OpDelete:
		return a.CanDelete
	}
	return true
}

// Authorize decides whether op on the logical path is permitted. It is a
// pure decision over its inputs; the caller resolves the session into an
// Actor and fetches the shared private-tree password from settings.
//
// Evaluation order, first match wins:
//  1. mutating op without the matching capability (and not admin) is
//     refused; anonymous callers get ErrUnauthorized, sessions get
//     ErrForbidden
//  2. private tree: privileged session allows; a non-empty configured
//     password matching the supplied one allows; an unprivileged session
//     gets ErrNoPermissions; anonymous gets ErrUnauthorized
//  3. public tree: allowed
//  4. anything else (including the bare root): session required
func Authorize(logical string, actor *Actor, suppliedPassword, privatePassword string, op Op) error {
	if op.Mutating() {
		if actor == nil {
			return ErrUnauthorized
		}
		if !actor.IsAdmin && !actor.capabilityFor(op) {
			return ErrForbidden
		}
	}

	switch TopSegment(logical) {
	case "private":
		if actor != nil && (actor.IsAdmin || actor.CanAccessPrivate) {
			return nil
		}
		if privatePassword != "" && suppliedPassword == privatePassword {
			return nil
		}
		if actor != nil {
			return ErrNoPermissions
		}
		return ErrUnauthorized
	case "public":
		return nil
	default:
		if actor == nil {
			return ErrUnauthorized
		}
		return nil
	}
}

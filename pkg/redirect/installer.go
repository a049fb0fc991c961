package redirect

import "errors"

var (
	// ErrPermissionDenied indicates the install needs privileges the process lacks
	ErrPermissionDenied = errors.New("insufficient permission to install redirect")
	// ErrAlreadyInUse indicates another instance of this client holds the redirect
	ErrAlreadyInUse = errors.New("redirect already held by another client instance")
)

// Installer abstracts the host-level substitution so the engine stays
// platform-independent. Implementations touch exactly one system resource
// and must be able to detect their own leftovers from a crashed instance.
type Installer interface {
	// Install points the vendor host at the local relay
	Install() error
	// Remove restores the system to its pre-install state. Removing when
	// nothing is installed is a no-op.
	Remove() error
	// Installed reports whether a substitution from this client (current or
	// a previous process) is present.
	Installed() (bool, error)
}

// Package imperr defines the sentinel error kinds shared by every component
// of the IMP: the key-value envelope, the signing mechanisms, the token
// codec, the cgroup reaper, and the privilege-separated exec driver.
//
// Call sites wrap one of these with context using fmt.Errorf("...: %w", ...)
// and callers use errors.Is to classify failures, the way the teacher
// exposes a small closed set of sentinel errors rather than typed error
// structs per package.
package imperr

import "errors"

var (
	// ErrInvalidArgument means a caller contract was violated: a negative
	// userid, a non-zero reserved flags value, a nil payload with a
	// positive length, and the like.
	ErrInvalidArgument = errors.New("imp: invalid argument")

	// ErrNotFound means a requested key-value entry, config path, or
	// passwd entry does not exist.
	ErrNotFound = errors.New("imp: not found")

	// ErrTypeMismatch means a key-value entry exists but was requested
	// with the wrong type.
	ErrTypeMismatch = errors.New("imp: type mismatch")

	// ErrEncoding means a key-value or base64 byte stream was malformed.
	ErrEncoding = errors.New("imp: encoding error")

	// ErrInvalidToken means a signed envelope was malformed, missing a
	// required header key, or otherwise could not be parsed.
	ErrInvalidToken = errors.New("imp: invalid token")

	// ErrSignatureFailure means a mechanism's verify hook rejected the
	// token outright.
	ErrSignatureFailure = errors.New("imp: signature verification failed")

	// ErrMechanismUnknown means a token or caller named a mechanism that
	// is not registered.
	ErrMechanismUnknown = errors.New("imp: unknown signing mechanism")

	// ErrMechanismDisallowed means a token's mechanism is registered but
	// not present in the configured allow-list.
	ErrMechanismDisallowed = errors.New("imp: mechanism not allowed")

	// ErrVersionMismatch means a token header's version field is not the
	// version this codec understands.
	ErrVersionMismatch = errors.New("imp: unsupported token version")

	// ErrNotAuthorized means a user, shell, or unprivileged-exec mode was
	// rejected by the configured allow-lists.
	ErrNotAuthorized = errors.New("imp: not authorized")

	// ErrUnsupported means the runtime environment lacks a facility this
	// operation requires (no cgroup v1/v2 hierarchy found, PAM requested
	// but unavailable).
	ErrUnsupported = errors.New("imp: unsupported environment")

	// ErrIO means an underlying syscall or file operation failed.
	ErrIO = errors.New("imp: i/o failure")
)

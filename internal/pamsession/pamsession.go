// Package pamsession brackets a privileged exec with an optional PAM
// session (pam_open_session/pam_close_session in the original IMP). PAM
// itself is an external collaborator out of the CORE's scope (spec.md §1),
// and no PAM binding appears anywhere in the example pack, so Session is a
// narrow interface with a no-op implementation rather than a cgo PAM
// wrapper — see DESIGN.md. A real binding can satisfy this interface
// without touching the privsep driver.
package pamsession

// Session brackets a privileged operation performed on behalf of a user.
// Open is called after the privileged driver has verified the token but
// before the uid/gid transition; Close runs after the child has exited.
//
// Available reports whether this Session is backed by a real PAM stack.
// The driver consults it to distinguish "pam-support=false, nothing to do"
// from "pam-support=true, but no PAM binding was wired in" — the latter
// must fail the way the original IMP's imp_die(1, "exec: pam-support=true,
// but IMP was built without --enable-pam") does, not silently succeed.
type Session interface {
	Available() bool
	Open(username string, uid, gid int64, tty string) error
	Close() error
}

// Noop is used when no PAM implementation is wired in. It reports
// unavailable so the driver can reject exec.pam-support=true rather than
// open a session that never happens.
type Noop struct{}

func (Noop) Available() bool                          { return false }
func (Noop) Open(string, int64, int64, string) error  { return nil }
func (Noop) Close() error                             { return nil }

var _ Session = Noop{}

package privsep

import (
	"fmt"
	"os"

	"github.com/flux-hpc/imp/internal/passwd"
	"github.com/flux-hpc/imp/pkg/imperr"
	"golang.org/x/sys/unix"
)

// SudoUserEnv is consulted only when the real uid is 0: it lets a developer
// simulate a setuid-root invocation by dropping the real uid/gid to the
// named user before the privsep split runs. This is a test-only affordance,
// grounded directly on sudosim.c in the original IMP.
const SudoUserEnv = "SUDO_USER"

// SudoActive reports whether a SUDO_USER simulation should run: it only
// applies when the real uid is 0, mirroring sudo_user_name's guard so an
// unprivileged invocation can never be tricked into elevating itself.
func SudoActive() bool {
	return unix.Getuid() == 0 && os.Getenv(SudoUserEnv) != ""
}

// SimulateSetuid sets the real uid/gid to the SUDO_USER account, leaving
// the effective and saved uid/gid unchanged (0), so the rest of the driver sees the same
// (real=invoker, effective=root) split a genuine setuid-root install would
// produce.
func SimulateSetuid() error {
	user := os.Getenv(SudoUserEnv)
	if user == "" {
		return nil
	}
	pw, err := passwd.LookupByName(user)
	if err != nil {
		return fmt.Errorf("sudosim: %w", err)
	}
	if err := unix.Setresgid(int(pw.GID), -1, -1); err != nil {
		return fmt.Errorf("sudosim: setresgid: %w", imperr.ErrIO)
	}
	if err := unix.Setresuid(int(pw.UID), -1, -1); err != nil {
		return fmt.Errorf("sudosim: setresuid: %w", imperr.ErrIO)
	}
	return nil
}

// Package privsep implements the two-process privilege-separation exec
// pipeline: an unprivileged front end that authorizes a signed token and
// hands it to a privileged back end, which re-verifies it, forks, and
// irreversibly drops privilege to exec the requested job shell.
//
// The split itself is realized by re-executing this same binary (via
// os.Executable, the same "one binary, two entry points" shape the
// original IMP uses) with a hidden environment sentinel rather than a
// second fork(2) — Go's runtime does not offer a safe raw fork for a
// multi-threaded process, so the front end's "child of the split, real
// and effective user = invoker" role is realized as a freshly exec'd
// process started with the invoker's credentials (os/exec's
// SysProcAttr.Credential). Because exec'ing a setuid-root binary raises the
// effective uid again, the front end also drops its real, effective and
// saved uid/gid to the invoker's real ids before doing any work.
package privsep

import (
	"fmt"
	"os"

	"github.com/flux-hpc/imp/internal/config"
	"github.com/flux-hpc/imp/internal/pamsession"
	"github.com/flux-hpc/imp/internal/passwd"
	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/flux-hpc/imp/pkg/sign"
	"github.com/rs/zerolog"
)

// unprivChildEnv, when set to "1" in the environment, tells RunExec that
// this process is the re-exec'd front end rather than the original
// invocation.
const unprivChildEnv = "_FLUX_IMP_PRIVSEP_CHILD"

// privsepChannelFD is the file descriptor the front end finds its write
// end of the privsep pipe on (ExtraFiles[0] in the back end's exec.Cmd maps
// to fd 3 in the child, after stdin/stdout/stderr).
const privsepChannelFD = 3

// Driver wires the config, token codec and optional PAM session bracket
// needed to run the exec subcommand end to end.
type Driver struct {
	Config *config.Config
	Codec  *sign.Codec
	PAM    pamsession.Session
	Log    zerolog.Logger
}

// NewDriver builds a Driver from a loaded configuration.
func NewDriver(cfg *config.Config, log zerolog.Logger, pam pamsession.Session) *Driver {
	if pam == nil {
		pam = pamsession.Noop{}
	}
	return &Driver{
		Config: cfg,
		Codec:  sign.NewCodec(cfg.MechConfig()),
		PAM:    pam,
		Log:    log,
	}
}

// RunExec is the single entry point used for both privsep halves; which
// half runs is decided by unprivChildEnv, exactly mirroring the original
// binary's two imp_exec_privileged/imp_exec_unprivileged functions reached
// from the same "exec" subcommand.
func (d *Driver) RunExec(shellPath, shellArg string) int {
	if os.Getenv(unprivChildEnv) == "1" {
		return d.runFrontEnd(shellPath, shellArg)
	}
	return d.runPrivileged(shellPath, shellArg)
}

// invokerIdentity resolves the password entry for the process's real uid,
// used identically by both privsep halves to check exec.allowed-users.
func (d *Driver) invokerIdentity() (passwd.Entry, error) {
	pw, err := passwd.Lookup(int64(os.Getuid()))
	if err != nil {
		return passwd.Entry{}, fmt.Errorf("privsep: resolve invoking user: %w", err)
	}
	return pw, nil
}

func (d *Driver) checkUserAllowed(username string) error {
	if !containsString(d.Config.Exec.AllowedUsers, username) {
		return fmt.Errorf("privsep: user %q not in allowed-users: %w", username, imperr.ErrNotAuthorized)
	}
	return nil
}

func (d *Driver) checkShellAllowed(shellPath string) error {
	if !containsString(d.Config.Exec.AllowedShells, shellPath) {
		return fmt.Errorf("privsep: shell %q not in allowed-shells: %w", shellPath, imperr.ErrNotAuthorized)
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

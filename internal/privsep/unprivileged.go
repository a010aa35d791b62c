package privsep

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/flux-hpc/imp/pkg/kv"
)

// execHelperEnv names the optional helper program whose stdout carries the
// JSON token input, read via a safe popen (no shell expansion) instead of
// stdin.
const execHelperEnv = "FLUX_IMP_EXEC_HELPER"

// execInput is the JSON object read from stdin or the exec helper.
type execInput struct {
	J string `json:"J"`
}

// readToken reads the signed token from FLUX_IMP_EXEC_HELPER's stdout if
// set, otherwise from stdin, matching imp_exec_init_helper /
// imp_exec_init_stream in the original IMP.
func (d *Driver) readToken() (string, error) {
	helper := os.Getenv(execHelperEnv)
	if helper == "" {
		return decodeExecInput(os.Stdin)
	}

	// No shell is invoked: the helper path is executed directly, argv[0]
	// only, exactly like safe_popen's fork+execve without /bin/sh -c.
	cmd := exec.Command(helper)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("privsep: exec helper %q: %w", helper, imperr.ErrIO)
	}
	return decodeExecInput(bytes.NewReader(out))
}

func decodeExecInput(r io.Reader) (string, error) {
	var in execInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return "", fmt.Errorf("privsep: invalid json input: %w", imperr.ErrInvalidToken)
	}
	if in.J == "" {
		return "", fmt.Errorf("privsep: missing J in input: %w", imperr.ErrInvalidToken)
	}
	return in.J, nil
}

// buildExecRequest runs the checks common to both the front end (writing
// to the privsep channel) and the no-privsep direct exec path: resolve the
// invoker, check exec.allowed-users, read and fast-verify the token.
func (d *Driver) buildExecRequest(shellPath, shellArg string) (string, []string, error) {
	invoker, err := d.invokerIdentity()
	if err != nil {
		return "", nil, err
	}
	if err := d.checkUserAllowed(invoker.Username); err != nil {
		return "", nil, err
	}

	token, err := d.readToken()
	if err != nil {
		return "", nil, err
	}

	// Fast-fail verification: catches a garbage token before ever waking
	// the privileged parent. The privileged side re-verifies
	// authoritatively; this half's result is otherwise discarded, since
	// the opaque payload is not forwarded (only J itself travels the
	// privsep channel).
	if _, err := d.Codec.Unwrap(token, 0, true); err != nil {
		return "", nil, fmt.Errorf("privsep: token verification failed: %w", err)
	}

	return token, []string{shellPath, shellArg}, nil
}

// runFrontEnd is the unprivileged entry point: it always runs re-exec'd by
// runPrivileged with a privsep channel on fd 3.
func (d *Driver) runFrontEnd(shellPath, shellArg string) int {
	// Re-executing a setuid-root binary raises the effective uid again at
	// execve time; drop irreversibly back to the invoker before any check.
	uid, gid := os.Getuid(), os.Getgid()
	if os.Geteuid() != uid || os.Getegid() != gid {
		if err := syscall.Setresgid(gid, gid, gid); err != nil {
			d.Log.Error().Err(err).Msg("exec: failed to drop group privilege")
			return 1
		}
		if err := syscall.Setresuid(uid, uid, uid); err != nil {
			d.Log.Error().Err(err).Msg("exec: failed to drop user privilege")
			return 1
		}
	}

	token, argv, err := d.buildExecRequest(shellPath, shellArg)
	if err != nil {
		d.Log.Error().Err(err).Msg("exec: unprivileged checks failed")
		return 1
	}
	if err := d.checkShellAllowed(shellPath); err != nil {
		d.Log.Error().Err(err).Msg("exec: shell not allowed")
		return 1
	}

	obj := kv.New()
	obj.PutString("J", token)
	obj.PutString("shell_path", shellPath)
	if err := obj.Join(kv.EncodeArgv(argv), "args"); err != nil {
		d.Log.Error().Err(err).Msg("exec: failed to encode shell arguments")
		return 1
	}

	channel := os.NewFile(privsepChannelFD, "privsep-channel")
	if channel == nil {
		d.Log.Error().Msg("exec: no privsep channel available")
		return 1
	}
	defer channel.Close()

	if err := writeKV(channel, obj); err != nil {
		d.Log.Error().Err(err).Msg("exec: failed to communicate with privsep parent")
		return 1
	}
	return 0
}

// runUnprivilegedDirect handles the case where the binary is not installed
// setuid at all: there is no privileged parent to hand off to, so this
// process execs the shell itself if exec.allow-unprivileged-exec permits
// it.
func (d *Driver) runUnprivilegedDirect(shellPath, shellArg string) int {
	_, argv, err := d.buildExecRequest(shellPath, shellArg)
	if err != nil {
		d.Log.Error().Err(err).Msg("exec: unprivileged checks failed")
		return 1
	}

	if !d.Config.Exec.AllowUnprivilegedExec {
		d.Log.Error().Msg("exec: IMP not installed setuid, operation disabled")
		return 1
	}
	d.Log.Warn().Msg("running without privilege, userid switching not available")

	return execDirect(shellPath, argv)
}

package privsep

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/flux-hpc/imp/internal/passwd"
	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/flux-hpc/imp/pkg/kv"
)

// isSetuid reports whether this process is running with elevated effective
// privilege over its real identity — the condition under which a privsep
// split is meaningful at all.
func isSetuid() bool {
	return os.Geteuid() == 0 && os.Getuid() != 0
}

type channelResult struct {
	obj *kv.Object
	err error
}

// runPrivileged performs the privsep split (re-exec the front end with a
// channel pipe) and then the privileged entry's own checks, fork and exec
// of the job shell, exactly mirroring imp_exec_privileged in the original
// IMP one step at a time.
func (d *Driver) runPrivileged(shellPath, shellArg string) int {
	if !isSetuid() {
		return d.runUnprivilegedDirect(shellPath, shellArg)
	}

	invoker, err := d.invokerIdentity()
	if err != nil {
		d.Log.Error().Err(err).Msg("exec: failed to resolve invoking user")
		return 1
	}
	if err := d.checkUserAllowed(invoker.Username); err != nil {
		d.Log.Error().Err(err).Msg("exec: user not allowed")
		return 1
	}

	obj, err := d.splitAndRunFrontEnd(shellPath, shellArg)
	if err != nil {
		d.Log.Error().Err(err).Msg("exec: privsep front end failed")
		return 1
	}

	return d.execPrivileged(obj)
}

// splitAndRunFrontEnd re-execs this binary with the unprivileged-child
// sentinel set and the real uid/gid as its credential, hands it a pipe to
// write its KV result on, and returns that result once the child has
// exited cleanly (privsep_wait).
func (d *Driver) splitAndRunFrontEnd(shellPath, shellArg string) (*kv.Object, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("exec: resolve own path: %w", imperr.ErrIO)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("exec: create privsep pipe: %w", imperr.ErrIO)
	}

	cmd := exec.Command(exe, "exec", shellPath, shellArg)
	cmd.Env = append(os.Environ(), unprivChildEnv+"=1")
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{w}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid: uint32(os.Getuid()),
			Gid: uint32(os.Getgid()),
		},
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("exec: start privsep child: %w", imperr.ErrIO)
	}
	w.Close()

	resultCh := make(chan channelResult, 1)
	go func() {
		obj, err := readKV(r)
		resultCh <- channelResult{obj, err}
	}()

	waitErr := cmd.Wait()
	result := <-resultCh
	r.Close()

	if waitErr != nil {
		return nil, fmt.Errorf("exec: privsep child exited with error: %w", imperr.ErrNotAuthorized)
	}
	if result.err != nil {
		return nil, result.err
	}
	return result.obj, nil
}

// execPrivileged re-verifies the token from the channel object, applies
// the privileged-side paranoia checks, then forks and execs the job shell,
// waiting for and forwarding signals to it.
func (d *Driver) execPrivileged(obj *kv.Object) int {
	token, err := obj.GetString("J")
	if err != nil {
		d.Log.Error().Err(err).Msg("exec: channel object missing J")
		return 1
	}
	shellPath, err := obj.GetString("shell_path")
	if err != nil {
		d.Log.Error().Err(err).Msg("exec: channel object missing shell_path")
		return 1
	}
	argsObj, err := obj.Split("args")
	if err != nil {
		d.Log.Error().Err(err).Msg("exec: channel object missing args")
		return 1
	}
	argv, err := kv.ExpandArgv(argsObj)
	if err != nil {
		d.Log.Error().Err(err).Msg("exec: failed to expand argv")
		return 1
	}

	res, err := d.Codec.Unwrap(token, 0, true)
	if err != nil {
		d.Log.Error().Err(err).Msg("exec: signature validation failed")
		return 1
	}

	if res.UserID == 0 {
		d.Log.Error().Msg("exec: switching to user root not supported")
		return 1
	}
	targetPwd, err := passwd.Lookup(res.UserID)
	if err != nil {
		d.Log.Error().Err(err).Int64("userid", res.UserID).Msg("exec: userid is invalid")
		return 1
	}
	if err := d.checkShellAllowed(shellPath); err != nil {
		d.Log.Error().Err(err).Msg("exec: shell not allowed")
		return 1
	}

	if d.Config.Exec.PamSupport {
		if !d.PAM.Available() {
			err := fmt.Errorf("exec: pam-support=true, but no PAM session backend is wired in: %w", imperr.ErrUnsupported)
			d.Log.Error().Err(err).Msg("exec: PAM unavailable")
			return 1
		}
		if err := d.PAM.Open(targetPwd.Username, targetPwd.UID, targetPwd.GID, ""); err != nil {
			d.Log.Error().Err(err).Msg("exec: PAM stack failure")
			return 1
		}
		defer func() {
			if err := d.PAM.Close(); err != nil {
				d.Log.Warn().Err(err).Msg("exec: PAM session close failed")
			}
		}()
	}

	return d.forkAndExec(shellPath, argv, targetPwd)
}

// forkAndExec forks (via os/exec, which performs the fork/setuid/setgid/
// execve sequence atomically in the child) into the job shell under the
// target identity, then waits for it while forwarding signals, mirroring
// the fork/child-exec/parent-waitpid split of imp_exec_privileged.
func (d *Driver) forkAndExec(shellPath string, argv []string, target passwd.Entry) int {
	var args []string
	if len(argv) > 1 {
		args = argv[1:]
	}

	cmd := exec.Command(shellPath, args...)
	cmd.Dir = "/"
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid: uint32(target.UID),
			Gid: uint32(target.GID),
		},
	}

	if err := cmd.Start(); err != nil {
		code := classifyExecFailure(err)
		d.Log.Error().Err(err).Str("shell", shellPath).Msg("exec: failed to start job shell")
		return code
	}

	fwd := startSignalForwarding(cmd.Process.Pid)
	waitErr := cmd.Wait()
	fwd.stop()

	return exitCodeFromWaitErr(waitErr)
}

// exitCodeFromWaitErr mirrors the original's WIFEXITED/WIFSIGNALED
// dispatch after waitpid: exited normally -> that exit code; killed by
// signal N -> 128+N; anything else -> 1.
func exitCodeFromWaitErr(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return 1
	}
	if status.Signaled() {
		return 128 + int(status.Signal())
	}
	if status.Exited() {
		return status.ExitStatus()
	}
	return 1
}

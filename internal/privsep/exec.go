package privsep

import (
	"errors"
	"os"
	"syscall"
)

// execCodeDenied and execCodeOther are the exit codes used when a shell
// fails to start. This corrects a bug in the original IMP's imp_exec(): its
// "exit_code = 126" assignment on EPERM/EACCES fell through unconditionally
// to "exit_code = 127" one line later, so the 126 branch was dead code
// (spec.md §9, flagged as an open question to fix). Here the two branches
// are mutually exclusive.
const (
	execCodeDenied = 126
	execCodeOther  = 127
)

// classifyExecFailure maps an exec(3) failure to the exit code the driver
// should use: 126 when the OS denied permission to run the program, 127 for
// any other failure (not found, not executable format, etc).
func classifyExecFailure(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EPERM || errno == syscall.EACCES) {
		return execCodeDenied
	}
	if os.IsPermission(err) {
		return execCodeDenied
	}
	return execCodeOther
}

// execDirect replaces the current process image with shellPath, argv. It
// only returns when execve fails; the returned int is the exit code the
// caller should use. This is used for the unprivileged, no-privsep-split
// exec path (exec.allow-unprivileged-exec=true): there is no child to wait
// on, so process replacement is the faithful analogue of the original's
// direct execvp call.
func execDirect(shellPath string, argv []string) int {
	env := os.Environ()
	err := syscall.Exec(shellPath, argv, env)
	return classifyExecFailure(err)
}

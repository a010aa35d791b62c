// Command flux-imp is the privileged helper used to launch and tear down
// job shells on behalf of a workload manager. It is ordinarily installed
// setuid-root; see internal/privsep for the privilege-separation exec
// pipeline and pkg/cgroup for process-tree teardown.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/flux-hpc/imp/internal/config"
	"github.com/flux-hpc/imp/internal/logging"
	"github.com/flux-hpc/imp/internal/pamsession"
	"github.com/flux-hpc/imp/internal/privsep"
	"github.com/flux-hpc/imp/pkg/cgroup"
	"golang.org/x/sys/unix"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if privsep.SudoActive() {
		if err := privsep.SimulateSetuid(); err != nil {
			fmt.Fprintln(os.Stderr, "flux-imp: sudosim:", err)
			return 1
		}
	}

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: flux-imp exec <shell-path> <arg> | flux-imp kill [signal]")
		return 1
	}

	switch args[0] {
	case "exec":
		return runExec(args[1:])
	case "kill":
		return runKill(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "flux-imp: unknown subcommand %q\n", args[0])
		return 1
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.Pattern())
}

// runExec implements the `exec <shell-path> <arg>` subcommand (spec.md §6):
// it is the single entry point for both privsep halves, dispatch between
// them happening inside privsep.Driver.RunExec.
func runExec(args []string) int {
	log := logging.Default("flux-imp-exec")

	if len(args) < 2 {
		log.Error().Msg("exec: missing arguments to exec subcommand")
		return 1
	}
	shellPath, shellArg := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Msg("exec: failed to load configuration")
		return 1
	}

	var pam pamsession.Session = pamsession.Noop{}
	driver := privsep.NewDriver(cfg, log, pam)
	return driver.RunExec(shellPath, shellArg)
}

// runKill implements a `kill <signal>` subcommand that signals every
// process in the caller's own cgroup, the direct CLI surface for C4 (not
// named explicitly in the distilled token/exec spec, but the natural home
// for the cgroup reaper a workload manager invokes at job teardown).
func runKill(args []string) int {
	log := logging.Default("flux-imp-kill")

	sig := unix.SIGTERM
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			log.Error().Str("signal", args[0]).Msg("kill: invalid signal")
			return 1
		}
		sig = unix.Signal(n)
	}

	info, err := cgroup.Discover(log)
	if err != nil {
		log.Error().Err(err).Msg("kill: failed to discover cgroup")
		return 1
	}

	if _, err := info.Kill(sig); err != nil {
		log.Error().Err(err).Msg("kill: failed to signal cgroup")
		return 1
	}
	if err := info.WaitForEmpty(); err != nil {
		log.Error().Err(err).Msg("kill: failed waiting for cgroup to drain")
		return 1
	}
	return 0
}

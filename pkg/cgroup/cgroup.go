// Package cgroup discovers the calling process's cgroup and uses it to
// reap a job shell's process tree: signal every process still resident in
// the cgroup and poll until it drains. It is a deliberately narrow
// re-implementation of flux-security's cgroup.c, not a general cgroup
// management library — the only operations it exposes are the ones the
// flux-imp kill subcommand needs at job-shell cleanup time.
package cgroup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Magic numbers for the filesystem types statfs(2) reports, taken from
// linux/magic.h (not always present as a build dependency, so inlined here
// the same way cgroup.c falls back to its own #define when the header is
// missing).
const (
	tmpfsMagic    = 0x01021994
	cgroupMagic   = 0x27e0eb
	cgroup2Magic  = 0x63677270
	procSelfGroup = "/proc/self/cgroup"
)

// Info describes the cgroup the current process belongs to.
type Info struct {
	MountDir      string
	Path          string
	Unified       bool
	UseCgroupKill bool

	log zerolog.Logger
}

// Discover determines whether the host uses the unified (cgroup2) or
// legacy (cgroup v1 + systemd) hierarchy, locates this process's cgroup
// path within it, and decides whether cgroup-based process reaping is
// enabled for this job (only when the cgroup's basename starts with
// "imp-shell", matching the name the job shell's cgroup is created under).
func Discover(log zerolog.Logger) (*Info, error) {
	info := &Info{log: log}

	if err := info.initMountDirAndType(); err != nil {
		return nil, err
	}
	if err := info.initPath(); err != nil {
		return nil, err
	}

	if strings.HasPrefix(path.Base(info.Path), "imp-shell") {
		info.UseCgroupKill = true
	}
	return info, nil
}

func (info *Info) initMountDirAndType() error {
	info.Unified = true

	candidate := "/sys/fs/cgroup"
	var fs unix.Statfs_t
	if err := unix.Statfs(candidate, &fs); err != nil {
		return fmt.Errorf("cgroup: statfs %s: %w", candidate, imperr.ErrIO)
	}
	if int64(fs.Type) == cgroup2Magic {
		info.MountDir = candidate
		return nil
	}

	candidate = "/sys/fs/cgroup/unified"
	if err := unix.Statfs(candidate, &fs); err == nil && int64(fs.Type) == cgroup2Magic {
		info.MountDir = candidate
		return nil
	}

	if int64(fs.Type) == tmpfsMagic {
		candidate = "/sys/fs/cgroup/systemd"
		if err := unix.Statfs(candidate, &fs); err == nil && int64(fs.Type) == cgroupMagic {
			info.MountDir = candidate
			info.Unified = false
			return nil
		}
	}

	return fmt.Errorf("cgroup: unable to determine cgroup mount point: %w", imperr.ErrUnsupported)
}

// initPath looks up the current cgroup relative path from /proc/self/cgroup:
// for a unified hierarchy this is the line with an empty subsystem field,
// for legacy it is the "name=systemd" line. See cgroups(7), "NOTES:
// /proc/[pid]/cgroup".
func (info *Info) initPath() error {
	f, err := os.Open(procSelfGroup)
	if err != nil {
		return fmt.Errorf("cgroup: open %s: %w", procSelfGroup, imperr.ErrIO)
	}
	defer f.Close()

	relpath, err := parseCgroupRelPath(f, info.Unified)
	if err != nil {
		return err
	}
	info.Path = info.MountDir + relpath
	return nil
}

// parseCgroupRelPath scans a /proc/[pid]/cgroup-formatted stream for the
// line matching the given hierarchy kind and returns its relative path.
func parseCgroupRelPath(r io.Reader, unified bool) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		first := strings.IndexByte(line, ':')
		if first < 0 {
			continue
		}
		rest := line[first+1:]
		second := strings.IndexByte(rest, ':')
		if second < 0 {
			continue
		}
		subsys := rest[:second]
		relpath := removeLeadingDotDot(rest[second+1:])

		if (unified && subsys == "") || (!unified && subsys == "name=systemd") {
			return relpath, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("cgroup: read: %w", imperr.ErrIO)
	}
	return "", fmt.Errorf("cgroup: no matching entry: %w", imperr.ErrNotFound)
}

func removeLeadingDotDot(relpath string) string {
	for strings.HasPrefix(relpath, "/..") {
		relpath = relpath[3:]
	}
	return relpath
}

func (info *Info) procsPath() string {
	return path.Join(info.Path, "cgroup.procs")
}

// Kill signals every process listed in this cgroup's cgroup.procs file,
// skipping the caller's own pid. It returns the number of processes
// successfully signaled. A per-pid signal failure is logged and does not
// abort the sweep; Kill only reports an error if every signal attempt
// failed (matching cgroup_kill's "rc < 0 && count == 0" check in the
// original IMP).
func (info *Info) Kill(sig unix.Signal) (int, error) {
	f, err := os.Open(info.procsPath())
	if err != nil {
		return 0, fmt.Errorf("cgroup: kill: open %s: %w", info.procsPath(), imperr.ErrIO)
	}
	defer f.Close()

	self := os.Getpid()
	count := 0
	var lastErr error

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		if pid == self {
			continue
		}
		if err := unix.Kill(pid, sig); err != nil {
			lastErr = err
			info.log.Warn().Err(err).Int("pid", pid).Int("signal", int(sig)).
				Msg("failed to signal process in cgroup")
			continue
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("cgroup: kill: read %s: %w", info.procsPath(), imperr.ErrIO)
	}
	if count == 0 && lastErr != nil {
		return -1, fmt.Errorf("cgroup: kill: %w", imperr.ErrIO)
	}
	return count, nil
}

// WaitForEmpty polls the cgroup (by probing with signal 0) until no
// processes remain, sleeping 1s between checks. It is a no-op unless
// UseCgroupKill is set, since inotify/poll do not work on the cgroup.procs
// virtual file and polling an irrelevant cgroup would just waste time.
func (info *Info) WaitForEmpty() error {
	if !info.UseCgroupKill {
		return nil
	}

	for {
		n, err := info.Kill(unix.Signal(0))
		if err != nil {
			return err
		}
		if n <= 0 {
			return nil
		}
		time.Sleep(time.Second)
	}
}

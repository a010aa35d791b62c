package cgroup

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRemoveLeadingDotDot(t *testing.T) {
	assert.Equal(t, "/job/42", removeLeadingDotDot("/job/42"))
	assert.Equal(t, "/job/42", removeLeadingDotDot("/../job/42"))
	assert.Equal(t, "/job/42", removeLeadingDotDot("/../../job/42"))
}

func TestParseCgroupRelPathUnified(t *testing.T) {
	data := "12:pids:/user.slice\n" +
		"0::/imp-shell.scope\n"
	relpath, err := parseCgroupRelPath(strings.NewReader(data), true)
	require.NoError(t, err)
	assert.Equal(t, "/imp-shell.scope", relpath)
}

func TestParseCgroupRelPathLegacy(t *testing.T) {
	data := "4:memory:/user.slice\n" +
		"1:name=systemd:/user.slice/imp-shell.scope\n"
	relpath, err := parseCgroupRelPath(strings.NewReader(data), false)
	require.NoError(t, err)
	assert.Equal(t, "/user.slice/imp-shell.scope", relpath)
}

func TestParseCgroupRelPathNoMatch(t *testing.T) {
	data := "4:memory:/user.slice\n"
	_, err := parseCgroupRelPath(strings.NewReader(data), true)
	assert.Error(t, err)
}

func TestParseCgroupRelPathStripsContainerDotDot(t *testing.T) {
	data := "0::/../../kubepods/imp-shell.scope\n"
	relpath, err := parseCgroupRelPath(strings.NewReader(data), true)
	require.NoError(t, err)
	assert.Equal(t, "/kubepods/imp-shell.scope", relpath)
}

func TestKillSkipsSelfAndReportsAllFailed(t *testing.T) {
	dir := t.TempDir()
	procsFile := filepath.Join(dir, "cgroup.procs")

	// A pid that cannot possibly exist, plus our own pid (which must be
	// skipped), exercise both branches without actually killing anything.
	content := "999999998\n" + strconv.Itoa(os.Getpid()) + "\n"
	require.NoError(t, os.WriteFile(procsFile, []byte(content), 0o644))

	info := &Info{Path: dir, log: zerolog.Nop()}
	count, err := info.Kill(unix.Signal(0))

	// The bogus pid fails (ESRCH) and is the only non-self entry, so the
	// sweep should report the all-failed case.
	require.Error(t, err)
	assert.Equal(t, -1, count)
}

func TestKillOnlySelfReturnsZero(t *testing.T) {
	dir := t.TempDir()
	procsFile := filepath.Join(dir, "cgroup.procs")
	require.NoError(t, os.WriteFile(procsFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	info := &Info{Path: dir, log: zerolog.Nop()}
	count, err := info.Kill(unix.Signal(0))
	require.NoError(t, err)
	assert.Equal(t, 0, count) // only entry was self, which is skipped
}

func TestWaitForEmptyNoopWhenCgroupKillDisabled(t *testing.T) {
	info := &Info{Path: "/nonexistent", log: zerolog.Nop(), UseCgroupKill: false}
	require.NoError(t, info.WaitForEmpty())
}


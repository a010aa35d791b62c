package privsep

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"testing"

	"github.com/flux-hpc/imp/pkg/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsString(t *testing.T) {
	assert.True(t, containsString([]string{"alice", "bob"}, "bob"))
	assert.False(t, containsString([]string{"alice", "bob"}, "carol"))
	assert.False(t, containsString(nil, "carol"))
}

func TestClassifyExecFailureEPERM(t *testing.T) {
	assert.Equal(t, execCodeDenied, classifyExecFailure(syscall.EPERM))
}

func TestClassifyExecFailureEACCES(t *testing.T) {
	assert.Equal(t, execCodeDenied, classifyExecFailure(syscall.EACCES))
}

func TestClassifyExecFailureENOENT(t *testing.T) {
	assert.Equal(t, execCodeOther, classifyExecFailure(syscall.ENOENT))
}

func TestExitCodeFromWaitErrNil(t *testing.T) {
	assert.Equal(t, 0, exitCodeFromWaitErr(nil))
}

func TestExitCodeFromWaitErrNonExitError(t *testing.T) {
	assert.Equal(t, 1, exitCodeFromWaitErr(errors.New("boom")))
}

func TestExitCodeFromWaitErrExitCode(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 3")
	err := cmd.Run()
	require.Error(t, err)
	assert.Equal(t, 3, exitCodeFromWaitErr(err))
}

func TestExitCodeFromWaitErrSignaled(t *testing.T) {
	cmd := exec.Command("sh", "-c", "kill -TERM $$; sleep 1")
	err := cmd.Run()
	require.Error(t, err)
	assert.Equal(t, 128+int(syscall.SIGTERM), exitCodeFromWaitErr(err))
}

func TestDecodeExecInput(t *testing.T) {
	j, err := decodeExecInput(strings.NewReader(`{"J":"abc.def.sig"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc.def.sig", j)
}

func TestDecodeExecInputMissingJ(t *testing.T) {
	_, err := decodeExecInput(strings.NewReader(`{}`))
	assert.Error(t, err)
}

func TestDecodeExecInputMalformed(t *testing.T) {
	_, err := decodeExecInput(strings.NewReader(`not json`))
	assert.Error(t, err)
}

func TestWriteReadKVRoundTrip(t *testing.T) {
	obj := kv.New()
	obj.PutString("J", "token")
	obj.PutString("shell_path", "/bin/true")

	var buf bytes.Buffer
	require.NoError(t, writeKV(&buf, obj))

	decoded, err := readKV(&buf)
	require.NoError(t, err)

	s, err := decoded.GetString("J")
	require.NoError(t, err)
	assert.Equal(t, "token", s)
}

func TestIsSetuidFalseForTestProcess(t *testing.T) {
	// The test binary itself is never setuid-root in CI.
	assert.False(t, isSetuid())
}

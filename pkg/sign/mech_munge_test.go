package sign

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

// requireMunged skips the test unless both munge(1) and unmunge(1) are on
// PATH; these tests exercise the real daemon and are meaningless without
// it. It does not check that a munged socket is reachable.
func requireMunged(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("munge"); err != nil {
		t.Skip("munge(1) not installed, skipping")
	}
	if _, err := exec.LookPath("unmunge"); err != nil {
		t.Skip("unmunge(1) not installed, skipping")
	}
}

func TestMungeMechSignVerifyRoundTrip(t *testing.T) {
	requireMunged(t)

	cfg := newTestConfig()
	codec := NewCodec(cfg)

	token, err := codec.Wrap(1000, []byte("payload"), "munge", 0)
	require.NoError(t, err)

	res, err := codec.Unwrap(token, 0, true)
	require.NoError(t, err)
	require.Equal(t, "payload", string(res.Payload))
}

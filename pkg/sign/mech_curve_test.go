package sign

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurveMechSignVerifyRoundTrip(t *testing.T) {
	certPath := filepath.Join(t.TempDir(), "curve.cert")
	require.NoError(t, GenerateCurveCert(certPath))

	cfg := newTestConfig()
	cfg.strings["curve-cert-path"] = certPath
	cfg.strings["default-type"] = "curve"

	codec := NewCodec(cfg)
	token, err := codec.Wrap(1000, []byte("payload"), "curve", 0)
	require.NoError(t, err)

	res, err := codec.Unwrap(token, 0, true)
	require.NoError(t, err)
	require.Equal(t, "payload", string(res.Payload))
}

func TestCurveMechTamperDetected(t *testing.T) {
	certPath := filepath.Join(t.TempDir(), "curve.cert")
	require.NoError(t, GenerateCurveCert(certPath))

	cfg := newTestConfig()
	cfg.strings["curve-cert-path"] = certPath

	codec := NewCodec(cfg)
	token, err := codec.Wrap(1000, []byte("payload"), "curve", 0)
	require.NoError(t, err)

	tampered := []byte(token)
	tampered[len(tampered)/2] ^= 0xff

	_, err = codec.Unwrap(string(tampered), 0, true)
	require.Error(t, err)
}

func TestCurveMechUninitialized(t *testing.T) {
	m := &curveMech{}
	_, err := m.Sign([]byte("x"), 0)
	require.Error(t, err)
}

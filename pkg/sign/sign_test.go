package sign

import (
	"encoding/base64"
	"testing"

	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/flux-hpc/imp/pkg/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig is a minimal MechConfig backed by plain Go values, standing in
// for internal/config.Config in these unit tests.
type testConfig struct {
	strings  map[string]string
	slices   map[string][]string
	booleans map[string]bool
}

func (c *testConfig) String(key string) (string, bool) {
	v, ok := c.strings[key]
	return v, ok
}

func (c *testConfig) Int64(key string) (int64, bool) { return 0, false }

func (c *testConfig) StringSlice(key string) ([]string, bool) {
	v, ok := c.slices[key]
	return v, ok
}

func (c *testConfig) Bool(key string) bool { return c.booleans[key] }

func newTestConfig() *testConfig {
	return &testConfig{
		strings:  map[string]string{"default-type": "none"},
		slices:   map[string][]string{"allowed-types": {"none", "munge", "curve"}},
		booleans: map[string]bool{},
	}
}

func TestWrapUnwrapRoundTripNone(t *testing.T) {
	codec := NewCodec(newTestConfig())

	token, err := codec.Wrap(1000, []byte("hello"), "none", 0)
	require.NoError(t, err)

	res, err := codec.Unwrap(token, 0, true)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(res.Payload))
	assert.EqualValues(t, 1000, res.UserID)
	assert.Equal(t, "none", res.Mechanism)
}

func TestWrapUnwrapEmptyPayload(t *testing.T) {
	codec := NewCodec(newTestConfig())

	token, err := codec.Wrap(0, nil, "none", 0)
	require.NoError(t, err)

	res, err := codec.Unwrap(token, 0, true)
	require.NoError(t, err)
	assert.Empty(t, res.Payload)
	assert.EqualValues(t, 0, res.UserID)
}

func TestTamperDetectionFinalByte(t *testing.T) {
	codec := NewCodec(newTestConfig())

	token, err := codec.Wrap(1000, []byte("hello"), "none", 0)
	require.NoError(t, err)

	tampered := []byte(token)
	tampered[len(tampered)-1] ^= 0xff

	_, err = codec.Unwrap(string(tampered), 0, true)
	assert.Error(t, err)
}

func TestTamperDetectionHeaderByte(t *testing.T) {
	codec := NewCodec(newTestConfig())

	token, err := codec.Wrap(1000, []byte("hello"), "none", 0)
	require.NoError(t, err)

	tampered := []byte(token)
	tampered[0] ^= 0xff

	_, err = codec.Unwrap(string(tampered), 0, true)
	assert.Error(t, err)
}

func TestDeterministicHeaderBytes(t *testing.T) {
	codec := NewCodec(newTestConfig())

	a, err := codec.Wrap(1000, []byte("hello"), "none", 0)
	require.NoError(t, err)
	b, err := codec.Wrap(1000, []byte("hello"), "none", 0)
	require.NoError(t, err)

	aHeaderPayload := a[:len(a)-len(".none-signature-1")]
	bHeaderPayload := b[:len(b)-len(".none-signature-1")]
	assert.Equal(t, aHeaderPayload, bHeaderPayload)
}

func TestUnwrapUnknownVersion(t *testing.T) {
	codec := NewCodec(newTestConfig())

	bad := craftTokenWithVersion(t, 2)
	_, err := codec.Unwrap(bad, FlagNoVerify, false)
	assert.ErrorIs(t, err, imperr.ErrVersionMismatch)
}

func TestUnwrapMechanismDisallowed(t *testing.T) {
	cfg := newTestConfig()
	cfg.slices["allowed-types"] = []string{"munge"}
	codec := NewCodec(cfg)

	token, err := codec.Wrap(1000, []byte("hello"), "none", 0)
	require.NoError(t, err)

	_, err = codec.Unwrap(token, 0, true)
	assert.ErrorIs(t, err, imperr.ErrMechanismDisallowed)
}

func TestUnwrapUnknownMechanism(t *testing.T) {
	codec := NewCodec(newTestConfig())
	bad := craftTokenWithMechanism(t, "bogus")
	_, err := codec.Unwrap(bad, FlagNoVerify, false)
	assert.ErrorIs(t, err, imperr.ErrMechanismUnknown)
}

func TestWrapInvalidArgument(t *testing.T) {
	codec := NewCodec(newTestConfig())
	_, err := codec.Wrap(-1, nil, "none", 0)
	assert.ErrorIs(t, err, imperr.ErrInvalidArgument)
}

func TestWrapDefaultMechanism(t *testing.T) {
	codec := NewCodec(newTestConfig())
	token, err := codec.Wrap(7, []byte("x"), "", 0)
	require.NoError(t, err)

	res, err := codec.Unwrap(token, 0, true)
	require.NoError(t, err)
	assert.Equal(t, "none", res.Mechanism)
}

func TestNoVerifySkipsSignatureCheck(t *testing.T) {
	codec := NewCodec(newTestConfig())
	token, err := codec.Wrap(1000, []byte("hello"), "none", 0)
	require.NoError(t, err)

	tampered := token[:len(token)-1] + "x"
	res, err := codec.Unwrap(tampered, FlagNoVerify, true)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(res.Payload))
}

// craftTokenWithVersion builds a syntactically valid but semantically bad
// token (wrong version) to exercise Unwrap's validation without punching a
// hole in Codec's exported surface.
func craftTokenWithVersion(t *testing.T, version int64) string {
	t.Helper()
	return craftToken(t, version, "none", 1000)
}

func craftTokenWithMechanism(t *testing.T, mech string) string {
	t.Helper()
	return craftToken(t, Version, mech, 1000)
}

func craftToken(t *testing.T, version int64, mech string, userid int64) string {
	t.Helper()

	h := kv.New()
	h.PutInt64("version", version)
	h.PutString("mechanism", mech)
	h.PutInt64("userid", userid)

	encoded, err := h.Encode()
	require.NoError(t, err)

	headerB64 := base64.StdEncoding.EncodeToString(encoded)
	payloadB64 := base64.StdEncoding.EncodeToString([]byte("payload"))
	return headerB64 + "." + payloadB64 + "." + noneSignature
}

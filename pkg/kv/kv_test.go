package kv

import (
	"testing"

	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	o := New()
	o.PutString("mechanism", "none")
	o.PutInt64("userid", 1000)

	s, err := o.GetString("mechanism")
	require.NoError(t, err)
	assert.Equal(t, "none", s)

	i, err := o.GetInt64("userid")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, i)
}

func TestGetUnknownKey(t *testing.T) {
	o := New()
	_, err := o.GetString("missing")
	assert.ErrorIs(t, err, imperr.ErrNotFound)
}

func TestGetTypeMismatch(t *testing.T) {
	o := New()
	o.PutString("version", "1")
	_, err := o.GetInt64("version")
	assert.ErrorIs(t, err, imperr.ErrTypeMismatch)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	o := New()
	o.PutInt64("version", 1)
	o.PutString("mechanism", "none")
	o.PutInt64("userid", 1000)

	encoded, err := o.Encode()
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, o.Keys(), decoded.Keys())
	v, err := decoded.GetString("mechanism")
	require.NoError(t, err)
	assert.Equal(t, "none", v)
}

func TestEncodeDeterministic(t *testing.T) {
	build := func() *Object {
		o := New()
		o.PutInt64("version", 1)
		o.PutString("mechanism", "curve")
		o.PutInt64("userid", 42)
		return o
	}

	a, err := build().Encode()
	require.NoError(t, err)
	b, err := build().Encode()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestSplitJoinRoundTrip(t *testing.T) {
	args := EncodeArgv([]string{"/bin/bash", "-c", "true"})

	parent := New()
	require.NoError(t, parent.Join(args, "args"))

	sub, err := parent.Split("args")
	require.NoError(t, err)

	argv, err := ExpandArgv(sub)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/bash", "-c", "true"}, argv)
}

func TestSplitNoMatch(t *testing.T) {
	o := New()
	o.PutString("unrelated", "x")
	_, err := o.Split("args")
	assert.Error(t, err)
}

func TestEncodeArgvExpandArgv(t *testing.T) {
	argv := []string{"echo", "hi"}
	o := EncodeArgv(argv)

	got, err := ExpandArgv(o)
	require.NoError(t, err)
	assert.Equal(t, argv, got)
}

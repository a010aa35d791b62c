package sign

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/flux-hpc/imp/pkg/kv"
)

// mungeMech wraps the local munged daemon via its munge(1)/unmunge(1)
// command-line tools, the way the original IMP links against libmunge. We
// shell out instead of binding the C library so the mechanism has no cgo
// dependency; the daemon is what actually performs the HMAC, not this code
// (per spec.md, the cryptographic primitive of the mechanism is out of this
// repository's scope).
type mungeMech struct {
	socket string
}

func init() {
	RegisterMechanism("munge", func() Mechanism { return &mungeMech{} })
}

func (*mungeMech) Name() string { return "munge" }

// Init picks up an optional non-default munged socket path from config, the
// way MUNGE_SOCKET overrides the compiled-in default socket.
func (m *mungeMech) Init(cfg MechConfig) error {
	if socket, ok := cfg.String("munge-socket"); ok {
		m.socket = socket
	}
	return nil
}

func (m *mungeMech) munge(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "munge", args...)
	if m.socket != "" {
		cmd.Env = append(cmd.Environ(), "MUNGE_SOCKET="+m.socket)
	}
	return cmd
}

func (m *mungeMech) unmunge(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "unmunge", args...)
	if m.socket != "" {
		cmd.Env = append(cmd.Environ(), "MUNGE_SOCKET="+m.socket)
	}
	return cmd
}

// Sign encodes buf into an opaque MUNGE credential via `munge`, feeding the
// payload on stdin and reading the credential from stdout.
func (m *mungeMech) Sign(buf []byte, flags int) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// With no input option munge(1) reads the payload from stdin and writes
	// the resulting credential to stdout.
	cmd := m.munge(ctx)
	cmd.Stdin = bytes.NewReader(buf)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("munge: sign: %s: %w", strings.TrimSpace(stderr.String()), imperr.ErrIO)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Verify decodes signature via `unmunge` and checks that the payload it
// certifies matches buf exactly, so that a credential that validly signed a
// different header/payload cannot be replayed against this one.
func (m *mungeMech) Verify(header *kv.Object, buf []byte, signature string, flags int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := m.unmunge(ctx, "--output=-", "--metadata=/dev/null")
	cmd.Stdin = strings.NewReader(signature)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("munge: verify: %s: %w", strings.TrimSpace(stderr.String()), imperr.ErrSignatureFailure)
	}
	if !bytes.Equal(stdout.Bytes(), buf) {
		return fmt.Errorf("munge: verify: decoded payload mismatch: %w", imperr.ErrSignatureFailure)
	}
	return nil
}

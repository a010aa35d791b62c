package sign

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/flux-hpc/imp/pkg/kv"
	"golang.org/x/crypto/nacl/sign"
)

// defaultCurveCertPath mirrors the location flux-security's own "curve"
// mechanism reads its certificate from when sign.curve-cert-path is not set
// in configuration.
const defaultCurveCertPath = "/etc/flux/imp/curve.cert"

// curveMech implements the "curve" mechanism on top of NaCl's Ed25519-over-
// Curve25519 signed boxes (golang.org/x/crypto/nacl/sign), standing in for
// the original's libsodium/ZMQ CURVE-backed signing service: the envelope
// and trait are in scope here, the specific cryptographic primitive wrapped
// by the service is not (spec.md §1).
type curveMech struct {
	mu  sync.Mutex
	pub *[32]byte
	sec *[64]byte
}

func init() {
	RegisterMechanism("curve", func() Mechanism { return &curveMech{} })
}

func (*curveMech) Name() string { return "curve" }

// Init loads the signing keypair from the cert file named by the
// sign.curve-cert-path configuration entry (default-path fallback above).
// The cert file holds two base64 lines: the public key, then the secret
// key, matching the shape flux-security's zcert-derived curve certs use.
func (m *curveMech) Init(cfg MechConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pub != nil && m.sec != nil {
		return nil
	}

	path, ok := cfg.String("curve-cert-path")
	if !ok {
		path = defaultCurveCertPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("curve: init: reading %s: %w", path, imperr.ErrUnsupported)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		return fmt.Errorf("curve: init: %s: malformed cert: %w", path, imperr.ErrUnsupported)
	}
	pubBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(lines[0]))
	if err != nil || len(pubBytes) != 32 {
		return fmt.Errorf("curve: init: %s: malformed public key: %w", path, imperr.ErrUnsupported)
	}
	secBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(lines[1]))
	if err != nil || len(secBytes) != 64 {
		return fmt.Errorf("curve: init: %s: malformed secret key: %w", path, imperr.ErrUnsupported)
	}

	var pub [32]byte
	var sec [64]byte
	copy(pub[:], pubBytes)
	copy(sec[:], secBytes)
	m.pub = &pub
	m.sec = &sec
	return nil
}

// GenerateCurveCert creates a new keypair and writes it to path in the
// format Init expects. It is exported for test setup and for an
// administrator provisioning a node's curve cert; it is not used by the
// sign/verify path itself.
func GenerateCurveCert(path string) error {
	pub, sec, err := sign.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("curve: generate cert: %w", imperr.ErrIO)
	}
	content := base64.StdEncoding.EncodeToString(pub[:]) + "\n" +
		base64.StdEncoding.EncodeToString(sec[:]) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("curve: generate cert: writing %s: %w", path, imperr.ErrIO)
	}
	return nil
}

func (m *curveMech) Sign(buf []byte, flags int) (string, error) {
	m.mu.Lock()
	sec := m.sec
	m.mu.Unlock()
	if sec == nil {
		return "", fmt.Errorf("curve: sign: not initialized: %w", imperr.ErrUnsupported)
	}

	signed := sign.Sign(nil, buf, sec)
	return base64.StdEncoding.EncodeToString(signed), nil
}

func (m *curveMech) Verify(header *kv.Object, buf []byte, signature string, flags int) error {
	m.mu.Lock()
	pub := m.pub
	m.mu.Unlock()
	if pub == nil {
		return fmt.Errorf("curve: verify: not initialized: %w", imperr.ErrUnsupported)
	}

	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("curve: verify: signature base64: %w", imperr.ErrSignatureFailure)
	}
	opened, ok := sign.Open(nil, raw, pub)
	if !ok || !bytes.Equal(opened, buf) {
		return fmt.Errorf("curve: verify: %w", imperr.ErrSignatureFailure)
	}
	return nil
}

package sign

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strings"

	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/flux-hpc/imp/pkg/kv"
)

// Version is the only token header version this codec understands.
const Version int64 = 1

// Unwrap flag bits.
const (
	// FlagNoVerify skips the mechanism's verify step. Used by a caller
	// that has already verified the token and only needs to re-parse it.
	FlagNoVerify = 1 << 0
)

// Result is what Unwrap returns on success.
type Result struct {
	Payload   []byte
	Mechanism string
	UserID    int64
}

// Codec implements the HEADER.PAYLOAD.SIGNATURE envelope described in the
// token codec design: Wrap builds and signs a token, Unwrap parses and
// verifies one. A Codec is scoped to a single "sign" configuration section
// (default-type, allowed-types); it holds no other state and is safe to
// reuse across many Wrap/Unwrap calls.
type Codec struct {
	cfg MechConfig
}

// NewCodec returns a Codec bound to the given sign configuration.
func NewCodec(cfg MechConfig) *Codec {
	return &Codec{cfg: cfg}
}

// Wrap builds a signed token for userid carrying payload, signed by the
// named mechanism (or the configured default-type if mechName is empty).
func (c *Codec) Wrap(userid int64, payload []byte, mechName string, flags int) (string, error) {
	if userid < 0 || flags != 0 {
		return "", fmt.Errorf("sign: wrap: %w", imperr.ErrInvalidArgument)
	}

	if mechName == "" {
		dflt, ok := c.cfg.String("default-type")
		if !ok {
			return "", fmt.Errorf("sign: wrap: no mechanism given and no default-type configured: %w", imperr.ErrInvalidArgument)
		}
		mechName = dflt
	}

	mech, err := NewMechanism(mechName)
	if err != nil {
		return "", fmt.Errorf("sign: wrap: %w", err)
	}
	if init, ok := mech.(MechanismInitializer); ok {
		if err := init.Init(c.cfg); err != nil {
			return "", fmt.Errorf("sign: wrap: mechanism init: %w", err)
		}
	}

	header := kv.New()
	header.PutInt64("version", Version)
	header.PutString("mechanism", mech.Name())
	header.PutInt64("userid", userid)

	if prep, ok := mech.(MechanismPrepper); ok {
		if err := prep.Prep(header, flags); err != nil {
			return "", fmt.Errorf("sign: wrap: mechanism prep: %w", err)
		}
	}

	headerBytes, err := header.Encode()
	if err != nil {
		return "", fmt.Errorf("sign: wrap: encode header: %w", err)
	}
	headerB64 := base64.StdEncoding.EncodeToString(headerBytes)
	payloadB64 := base64.StdEncoding.EncodeToString(payload)

	signed := headerB64 + "." + payloadB64
	sig, err := mech.Sign([]byte(signed), flags)
	if err != nil {
		return "", fmt.Errorf("sign: wrap: mechanism sign: %w", err)
	}
	if strings.Contains(sig, ".") {
		return "", fmt.Errorf("sign: wrap: mechanism %q produced a signature containing '.': %w", mech.Name(), imperr.ErrInvalidArgument)
	}

	return signed + "." + sig, nil
}

// Unwrap parses and, unless flags carries FlagNoVerify, verifies a token
// produced by Wrap. If checkAllowed is true, the token's mechanism must also
// appear in the "allowed-types" configuration entry.
func (c *Codec) Unwrap(input string, flags int, checkAllowed bool) (Result, error) {
	if flags&^FlagNoVerify != 0 {
		return Result{}, fmt.Errorf("sign: unwrap: %w", imperr.ErrInvalidArgument)
	}

	parts := strings.SplitN(input, ".", 3)
	if len(parts) != 3 {
		return Result{}, fmt.Errorf("sign: unwrap: malformed token: %w", imperr.ErrInvalidToken)
	}
	headerB64, payloadB64, signature := parts[0], parts[1], parts[2]

	headerBytes, err := base64.StdEncoding.DecodeString(headerB64)
	if err != nil {
		return Result{}, fmt.Errorf("sign: unwrap: header base64: %w", imperr.ErrInvalidToken)
	}
	header, err := kv.Decode(headerBytes)
	if err != nil {
		return Result{}, fmt.Errorf("sign: unwrap: header decode: %w", imperr.ErrInvalidToken)
	}

	version, err := header.GetInt64("version")
	if err != nil {
		return Result{}, fmt.Errorf("sign: unwrap: %w", imperr.ErrInvalidToken)
	}
	if version != Version {
		return Result{}, fmt.Errorf("sign: unwrap: version=%d: %w", version, imperr.ErrVersionMismatch)
	}

	mechName, err := header.GetString("mechanism")
	if err != nil {
		return Result{}, fmt.Errorf("sign: unwrap: %w", imperr.ErrInvalidToken)
	}
	mech, err := NewMechanism(mechName)
	if err != nil {
		return Result{}, fmt.Errorf("sign: unwrap: %w", err)
	}
	if checkAllowed {
		allowed, _ := c.cfg.StringSlice("allowed-types")
		if !slices.Contains(allowed, mechName) {
			return Result{}, fmt.Errorf("sign: unwrap: mechanism %q: %w", mechName, imperr.ErrMechanismDisallowed)
		}
	}

	userid, err := header.GetInt64("userid")
	if err != nil {
		return Result{}, fmt.Errorf("sign: unwrap: %w", imperr.ErrInvalidToken)
	}

	payload, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return Result{}, fmt.Errorf("sign: unwrap: payload base64: %w", imperr.ErrInvalidToken)
	}

	if flags&FlagNoVerify == 0 {
		if init, ok := mech.(MechanismInitializer); ok {
			if err := init.Init(c.cfg); err != nil {
				return Result{}, fmt.Errorf("sign: unwrap: mechanism init: %w", err)
			}
		}
		signed := headerB64 + "." + payloadB64
		if err := mech.Verify(header, []byte(signed), signature, flags); err != nil {
			return Result{}, fmt.Errorf("sign: unwrap: %w", imperr.ErrSignatureFailure)
		}
	}

	return Result{
		Payload:   payload,
		Mechanism: mechName,
		UserID:    userid,
	}, nil
}

package sign

import (
	"fmt"

	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/flux-hpc/imp/pkg/kv"
)

// noneSignature is the fixed constant signature the "none" mechanism
// produces and accepts. It exists for test builds where signing
// infrastructure (munge, curve certs) is unavailable; it provides no
// authentication whatsoever.
const noneSignature = "none-signature-1"

type noneMech struct{}

func init() {
	RegisterMechanism("none", func() Mechanism { return &noneMech{} })
}

func (*noneMech) Name() string { return "none" }

func (*noneMech) Sign(buf []byte, flags int) (string, error) {
	return noneSignature, nil
}

func (*noneMech) Verify(header *kv.Object, buf []byte, signature string, flags int) error {
	if signature != noneSignature {
		return fmt.Errorf("none: %w", imperr.ErrSignatureFailure)
	}
	return nil
}

package privsep

import (
	"fmt"
	"io"

	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/flux-hpc/imp/pkg/kv"
)

// writeKV writes the C1 deterministic encoding of obj to w in one shot. The
// original ferries this same encoding across its privsep pipe behind a
// length prefix (spec.md §9 Design Notes); here the pipe is instead closed
// by the writer once the single object has been written, so the reader can
// read to EOF and decode in one pass without needing to parse a length
// prefix out of the stream first.
func writeKV(w io.Writer, obj *kv.Object) error {
	encoded, err := obj.Encode()
	if err != nil {
		return fmt.Errorf("privsep: encode channel kv: %w", err)
	}
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("privsep: write channel kv: %w", imperr.ErrIO)
	}
	return nil
}

// readKV reads r to EOF and decodes a kv.Object from it.
func readKV(r io.Reader) (*kv.Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("privsep: read channel kv: %w", imperr.ErrIO)
	}
	obj, err := kv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("privsep: decode channel kv: %w", err)
	}
	return obj, nil
}

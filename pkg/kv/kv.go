// Package kv implements the ordered, typed key-value envelope used to build
// and parse the signed header carried inside an IMP token, and to ferry a
// job's argv and exec request across the privsep channel.
//
// Serialization is deterministic: encoding the same entries in the same
// insertion order always produces the same bytes, which matters because a
// mechanism's signature covers the encoded header.
package kv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/flux-hpc/imp/pkg/imperr"
)

// Type identifies the type of a value stored against a key.
type Type uint8

const (
	// TypeString marks a UTF-8 string value.
	TypeString Type = iota
	// TypeInt64 marks a 64-bit signed integer value.
	TypeInt64
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt64:
		return "int64"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

type entry struct {
	key string
	typ Type
	s   string
	i   int64
}

// Object is an insertion-ordered, typed key-value map. The zero value is not
// usable; construct one with New.
type Object struct {
	entries []entry
	index   map[string]int
}

// New returns an empty key-value object.
func New() *Object {
	return &Object{index: make(map[string]int)}
}

// PutString inserts or replaces a string-typed entry.
func (o *Object) PutString(key, value string) {
	o.put(key, entry{key: key, typ: TypeString, s: value})
}

// PutInt64 inserts or replaces an int64-typed entry.
func (o *Object) PutInt64(key string, value int64) {
	o.put(key, entry{key: key, typ: TypeInt64, i: value})
}

// Put inserts or replaces an entry of the given type. value must be a string
// for TypeString or an int64 for TypeInt64; any other combination returns
// imperr.ErrInvalidArgument.
func (o *Object) Put(key string, typ Type, value any) error {
	switch typ {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("kv: put %q: %w", key, imperr.ErrInvalidArgument)
		}
		o.PutString(key, s)
	case TypeInt64:
		i, ok := value.(int64)
		if !ok {
			return fmt.Errorf("kv: put %q: %w", key, imperr.ErrInvalidArgument)
		}
		o.PutInt64(key, i)
	default:
		return fmt.Errorf("kv: put %q: %w", key, imperr.ErrInvalidArgument)
	}
	return nil
}

func (o *Object) put(key string, e entry) {
	if i, ok := o.index[key]; ok {
		o.entries[i] = e
		return
	}
	o.index[key] = len(o.entries)
	o.entries = append(o.entries, e)
}

// GetString returns the string stored at key. Returns imperr.ErrNotFound if
// the key is absent, imperr.ErrTypeMismatch if it holds a different type.
func (o *Object) GetString(key string) (string, error) {
	i, ok := o.index[key]
	if !ok {
		return "", fmt.Errorf("kv: %q: %w", key, imperr.ErrNotFound)
	}
	e := o.entries[i]
	if e.typ != TypeString {
		return "", fmt.Errorf("kv: %q: %w", key, imperr.ErrTypeMismatch)
	}
	return e.s, nil
}

// GetInt64 returns the int64 stored at key. Returns imperr.ErrNotFound if the
// key is absent, imperr.ErrTypeMismatch if it holds a different type.
func (o *Object) GetInt64(key string) (int64, error) {
	i, ok := o.index[key]
	if !ok {
		return 0, fmt.Errorf("kv: %q: %w", key, imperr.ErrNotFound)
	}
	e := o.entries[i]
	if e.typ != TypeInt64 {
		return 0, fmt.Errorf("kv: %q: %w", key, imperr.ErrTypeMismatch)
	}
	return e.i, nil
}

// Has reports whether key is present, regardless of type.
func (o *Object) Has(key string) bool {
	_, ok := o.index[key]
	return ok
}

// Keys returns the stored keys in insertion order.
func (o *Object) Keys() []string {
	keys := make([]string, len(o.entries))
	for i, e := range o.entries {
		keys[i] = e.key
	}
	return keys
}

// Encode serializes the object deterministically: a leading varint entry
// count, followed by each entry as (key length, key bytes, type byte, value
// length, value bytes) in insertion order.
func (o *Object) Encode() ([]byte, error) {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(len(o.entries)))
	buf.Write(tmp[:n])

	for _, e := range o.entries {
		n = binary.PutUvarint(tmp[:], uint64(len(e.key)))
		buf.Write(tmp[:n])
		buf.WriteString(e.key)
		buf.WriteByte(byte(e.typ))

		switch e.typ {
		case TypeString:
			n = binary.PutUvarint(tmp[:], uint64(len(e.s)))
			buf.Write(tmp[:n])
			buf.WriteString(e.s)
		case TypeInt64:
			var ibuf [8]byte
			binary.BigEndian.PutUint64(ibuf[:], uint64(e.i))
			n = binary.PutUvarint(tmp[:], uint64(len(ibuf)))
			buf.Write(tmp[:n])
			buf.Write(ibuf[:])
		default:
			return nil, fmt.Errorf("kv: encode %q: unknown type %v: %w", e.key, e.typ, imperr.ErrEncoding)
		}
	}
	return buf.Bytes(), nil
}

// Decode parses bytes produced by Encode. Truncated or malformed input
// returns imperr.ErrEncoding.
func Decode(data []byte) (*Object, error) {
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("kv: decode count: %w", imperr.ErrEncoding)
	}

	o := New()
	for i := uint64(0); i < count; i++ {
		keylen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("kv: decode entry %d key length: %w", i, imperr.ErrEncoding)
		}
		keybuf := make([]byte, keylen)
		if _, err := readFull(r, keybuf); err != nil {
			return nil, fmt.Errorf("kv: decode entry %d key: %w", i, imperr.ErrEncoding)
		}
		typByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("kv: decode entry %d type: %w", i, imperr.ErrEncoding)
		}
		vlen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("kv: decode entry %d value length: %w", i, imperr.ErrEncoding)
		}
		vbuf := make([]byte, vlen)
		if _, err := readFull(r, vbuf); err != nil {
			return nil, fmt.Errorf("kv: decode entry %d value: %w", i, imperr.ErrEncoding)
		}

		key := string(keybuf)
		switch Type(typByte) {
		case TypeString:
			o.PutString(key, string(vbuf))
		case TypeInt64:
			if len(vbuf) != 8 {
				return nil, fmt.Errorf("kv: decode entry %d: bad int64 length: %w", i, imperr.ErrEncoding)
			}
			o.PutInt64(key, int64(binary.BigEndian.Uint64(vbuf)))
		default:
			return nil, fmt.Errorf("kv: decode entry %d: unknown type %d: %w", i, typByte, imperr.ErrEncoding)
		}
	}
	return o, nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Split extracts every entry whose key has the shape "prefix.<rest>",
// returning a new Object keyed by "<rest>" alone. It is the exact inverse
// of Join and mirrors kv_split from the original IMP's key-value library,
// used there to pull a job's encoded argv (keys "argc", "argv.0", "argv.1",
// ...) back out of a flattened "args.argc", "args.argv.0", ... run of keys.
func (o *Object) Split(prefix string) (*Object, error) {
	want := prefix + "."
	sub := New()
	for _, e := range o.entries {
		if !strings.HasPrefix(e.key, want) {
			continue
		}
		rest := e.key[len(want):]
		switch e.typ {
		case TypeString:
			sub.PutString(rest, e.s)
		case TypeInt64:
			sub.PutInt64(rest, e.i)
		}
	}
	if len(sub.entries) == 0 {
		return nil, fmt.Errorf("kv: split %q: %w", prefix, imperr.ErrNotFound)
	}
	return sub, nil
}

// Join is the inverse of Split: every entry of sub is copied into o under
// the key "prefix.<sub's key>".
func (o *Object) Join(sub *Object, prefix string) error {
	for _, e := range sub.entries {
		key := prefix + "." + e.key
		switch e.typ {
		case TypeString:
			o.PutString(key, e.s)
		case TypeInt64:
			o.PutInt64(key, e.i)
		default:
			return fmt.Errorf("kv: join %q: %w", key, imperr.ErrEncoding)
		}
	}
	return nil
}

// EncodeArgv packs an argv slice into an Object with an "argc" int64 entry
// and one "argv.N" string entry per element, the shape the original IMP's
// kv_encode_argv/kv_expand_argv helpers use to carry a shell command line
// across the privsep pipe.
func EncodeArgv(argv []string) *Object {
	o := New()
	o.PutInt64("argc", int64(len(argv)))
	for i, a := range argv {
		o.PutString(fmt.Sprintf("argv.%d", i), a)
	}
	return o
}

// ExpandArgv is the inverse of EncodeArgv.
func ExpandArgv(o *Object) ([]string, error) {
	argc, err := o.GetInt64("argc")
	if err != nil {
		return nil, fmt.Errorf("kv: expand argv: %w", err)
	}
	if argc < 0 {
		return nil, fmt.Errorf("kv: expand argv: negative argc: %w", imperr.ErrEncoding)
	}
	argv := make([]string, argc)
	for i := range argv {
		s, err := o.GetString(fmt.Sprintf("argv.%d", i))
		if err != nil {
			return nil, fmt.Errorf("kv: expand argv[%d]: %w", i, err)
		}
		argv[i] = s
	}
	return argv, nil
}

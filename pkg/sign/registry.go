package sign

import (
	"fmt"
	"strings"
	"sync"

	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/flux-hpc/imp/pkg/kv"
)

// MechConfig is the opaque view of the "sign" configuration section that a
// Mechanism's Init hook receives. Callers supply their own implementation
// (internal/config provides the production one); the registry and codec
// never parse configuration directly.
type MechConfig interface {
	String(key string) (string, bool)
	Int64(key string) (int64, bool)
	StringSlice(key string) ([]string, bool)
	Bool(key string) bool
}

// Mechanism is the trait every signing mechanism implements. Name, Sign and
// Verify are required; Init and Prep are optional hooks a mechanism can pick
// up by also implementing MechanismInitializer / MechanismPrepper.
type Mechanism interface {
	// Name returns the mechanism's registered name.
	Name() string

	// Sign computes the signature over buf (the concatenated
	// base64(header) + "." + base64(payload) bytes) and returns it as an
	// opaque string containing no '.'.
	Sign(buf []byte, flags int) (string, error)

	// Verify checks signature against buf. header is the already-decoded
	// token header, made available so mechanisms that stash their own
	// keys there via Prep can read them back.
	Verify(header *kv.Object, buf []byte, signature string, flags int) error
}

// MechanismInitializer is implemented by mechanisms that need to load
// configuration or key material before their first use in a process.
type MechanismInitializer interface {
	Init(cfg MechConfig) error
}

// MechanismPrepper is implemented by mechanisms that add their own keys to
// the token header at wrap time (e.g. a certificate name or key id).
type MechanismPrepper interface {
	Prep(header *kv.Object, flags int) error
}

// MechFactory constructs a fresh Mechanism instance. Mechanisms register a
// factory under their name in an init() function.
type MechFactory func() Mechanism

var registry = struct {
	sync.Mutex
	mechs map[string]MechFactory
}{mechs: make(map[string]MechFactory)}

// RegisterMechanism associates a mechanism factory with a unique name. It is
// expected to be called from the init() function of a mechanism
// implementation; registering the same name twice panics, since it can only
// indicate a programming error in a statically compiled-in set.
func RegisterMechanism(name string, f MechFactory) {
	registry.Lock()
	defer registry.Unlock()

	name = strings.ToLower(name)
	if _, ok := registry.mechs[name]; ok {
		panic("sign: mechanism already registered: " + name)
	}
	registry.mechs[name] = f
}

// NewMechanism instantiates the mechanism registered under name.
func NewMechanism(name string) (Mechanism, error) {
	registry.Lock()
	f, ok := registry.mechs[strings.ToLower(name)]
	registry.Unlock()

	if !ok {
		return nil, fmt.Errorf("sign: mechanism %q: %w", name, imperr.ErrMechanismUnknown)
	}
	return f(), nil
}

// Mechanisms returns the names of every registered mechanism.
func Mechanisms() []string {
	registry.Lock()
	defer registry.Unlock()

	names := make([]string, 0, len(registry.mechs))
	for name := range registry.mechs {
		names = append(names, name)
	}
	return names
}

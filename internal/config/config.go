// Package config loads the IMP's own configuration and the configuration
// consumed by pkg/sign. Reading and validating config is explicitly out of
// the CORE's scope (spec.md §1): this package is the "external collaborator"
// the core talks to through the sign.MechConfig and Config types, not part
// of the core itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/flux-hpc/imp/pkg/imperr"
	"github.com/flux-hpc/imp/pkg/sign"
)

// DefaultConfigPattern is the production glob used to locate config
// fragments when FLUX_IMP_CONFIG_PATTERN is unset.
const DefaultConfigPattern = "/etc/flux/imp/*.toml"

// ConfigPatternEnv names the environment variable that overrides the glob
// used to find config files, for both the IMP's own config and (per
// spec.md §6) the security library's.
const ConfigPatternEnv = "FLUX_IMP_CONFIG_PATTERN"

// ExecConfig is the validated "exec" configuration table (spec.md §6).
type ExecConfig struct {
	AllowedUsers          []string
	AllowedShells         []string
	AllowUnprivilegedExec bool
	PamSupport            bool
}

// SignConfig is the validated "sign" configuration table (spec.md §6).
type SignConfig struct {
	MaxTTL       int64
	DefaultType  string
	AllowedTypes []string
}

// Config is the opaque map described in spec.md §6, decoded and validated
// into the two tables the core consumes plus a raw view mechanisms can pull
// their own extension keys from via MechConfig.
type Config struct {
	Exec ExecConfig
	Sign SignConfig

	rawSign map[string]any
}

// Pattern returns the glob to use for locating config, honoring
// FLUX_IMP_CONFIG_PATTERN if set.
func Pattern() string {
	if p := os.Getenv(ConfigPatternEnv); p != "" {
		return p
	}
	return DefaultConfigPattern
}

// Load reads every file matched by pattern (sorted by name, later files
// override earlier ones section by section — the same coarse merge
// flux-security's own cf layer performs across config fragments) and
// validates the exec and sign sections.
func Load(pattern string) (*Config, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config: glob %q: %w", pattern, imperr.ErrIO)
	}
	sort.Strings(matches)

	merged := make(map[string]any)
	for _, path := range matches {
		var frag map[string]any
		if _, err := toml.DecodeFile(path, &frag); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, imperr.ErrIO)
		}
		for section, value := range frag {
			merged[section] = value
		}
	}

	return fromMap(merged)
}

func fromMap(merged map[string]any) (*Config, error) {
	execSection, _ := merged["exec"].(map[string]any)
	signSection, _ := merged["sign"].(map[string]any)

	exec, err := parseExecConfig(execSection)
	if err != nil {
		return nil, err
	}
	signCfg, err := parseSignConfig(signSection)
	if err != nil {
		return nil, err
	}

	return &Config{
		Exec:    exec,
		Sign:    signCfg,
		rawSign: signSection,
	}, nil
}

func parseExecConfig(m map[string]any) (ExecConfig, error) {
	users, err := requiredStringSlice(m, "exec", "allowed-users")
	if err != nil {
		return ExecConfig{}, err
	}
	shells, err := requiredStringSlice(m, "exec", "allowed-shells")
	if err != nil {
		return ExecConfig{}, err
	}
	return ExecConfig{
		AllowedUsers:          users,
		AllowedShells:         shells,
		AllowUnprivilegedExec: boolField(m, "allow-unprivileged-exec"),
		PamSupport:            boolField(m, "pam-support"),
	}, nil
}

func parseSignConfig(m map[string]any) (SignConfig, error) {
	maxTTL, err := requiredInt64(m, "sign", "max-ttl")
	if err != nil {
		return SignConfig{}, err
	}
	// -100 is permitted only as a test-build sentinel (spec.md §6); any
	// other non-positive value is a config error, matching sign_create's
	// validation in the original IMP.
	if maxTTL <= 0 && maxTTL != -100 {
		return SignConfig{}, fmt.Errorf("config: sign.max-ttl must be > 0 (or -100 for test builds): %w", imperr.ErrInvalidArgument)
	}

	defaultType, err := requiredString(m, "sign", "default-type")
	if err != nil {
		return SignConfig{}, err
	}
	if !mechanismKnown(defaultType) {
		return SignConfig{}, fmt.Errorf("config: sign.default-type=%q: %w", defaultType, imperr.ErrMechanismUnknown)
	}

	allowedTypes, err := requiredStringSlice(m, "sign", "allowed-types")
	if err != nil {
		return SignConfig{}, err
	}
	if len(allowedTypes) == 0 {
		return SignConfig{}, fmt.Errorf("config: sign.allowed-types must not be empty: %w", imperr.ErrInvalidArgument)
	}
	for _, name := range allowedTypes {
		if !mechanismKnown(name) {
			return SignConfig{}, fmt.Errorf("config: sign.allowed-types: %q: %w", name, imperr.ErrMechanismUnknown)
		}
	}

	return SignConfig{
		MaxTTL:       maxTTL,
		DefaultType:  defaultType,
		AllowedTypes: allowedTypes,
	}, nil
}

func mechanismKnown(name string) bool {
	for _, m := range sign.Mechanisms() {
		if m == name {
			return true
		}
	}
	return false
}

func requiredString(m map[string]any, section, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("config: %s.%s is required: %w", section, key, imperr.ErrInvalidArgument)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config: %s.%s must be a string: %w", section, key, imperr.ErrInvalidArgument)
	}
	return s, nil
}

func requiredInt64(m map[string]any, section, key string) (int64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("config: %s.%s is required: %w", section, key, imperr.ErrInvalidArgument)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("config: %s.%s must be an integer: %w", section, key, imperr.ErrInvalidArgument)
	}
}

func requiredStringSlice(m map[string]any, section, key string) ([]string, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("config: %s.%s is required: %w", section, key, imperr.ErrInvalidArgument)
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("config: %s.%s must be an array: %w", section, key, imperr.ErrInvalidArgument)
	}
	out := make([]string, len(raw))
	for i, el := range raw {
		s, ok := el.(string)
		if !ok {
			return nil, fmt.Errorf("config: %s.%s[%d] must be a string: %w", section, key, i, imperr.ErrInvalidArgument)
		}
		out[i] = s
	}
	return out, nil
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

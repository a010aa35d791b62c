package config

import "github.com/flux-hpc/imp/pkg/sign"

// mechConfigView adapts a Config's raw "sign" section to pkg/sign.MechConfig,
// letting mechanisms read their own extension keys (e.g. curve-cert-path,
// munge-socket) straight out of the same table default-type and
// allowed-types came from.
type mechConfigView struct {
	raw map[string]any
}

var _ sign.MechConfig = (*mechConfigView)(nil)

// MechConfig returns the view mechanisms' Init hooks should receive.
func (c *Config) MechConfig() sign.MechConfig {
	return &mechConfigView{raw: c.rawSign}
}

func (v *mechConfigView) String(key string) (string, bool) {
	s, ok := v.raw[key].(string)
	return s, ok
}

func (v *mechConfigView) Int64(key string) (int64, bool) {
	switch n := v.raw[key].(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func (v *mechConfigView) StringSlice(key string) ([]string, bool) {
	raw, ok := v.raw[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, el := range raw {
		s, ok := el.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func (v *mechConfigView) Bool(key string) bool {
	b, _ := v.raw[key].(bool)
	return b
}

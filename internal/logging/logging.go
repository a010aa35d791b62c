// Package logging sets up the zerolog logger shared by the privsep driver
// and the cgroup reaper. Structured logging is ambient stack (SPEC_FULL.md
// A.1), carried regardless of which core features are in scope.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// JSONEnv, when set to any non-empty value, selects JSON output instead of the
// human-readable console writer; the privileged helper normally runs under
// a supervisor that prefers JSON lines, while an interactive invocation
// (e.g. via sudosim) wants the console form.
const JSONEnv = "FLUX_IMP_LOG_JSON"

// New builds a logger writing to w, tagged with the IMP's component name.
// Level defaults to info; FLUX_IMP_LOG_LEVEL overrides it with any name
// zerolog.ParseLevel accepts.
func New(w io.Writer, component string) zerolog.Logger {
	level := zerolog.InfoLevel
	if s := os.Getenv("FLUX_IMP_LOG_LEVEL"); s != "" {
		if parsed, err := zerolog.ParseLevel(s); err == nil {
			level = parsed
		}
	}

	var out io.Writer = w
	if os.Getenv(JSONEnv) == "" {
		out = zerolog.ConsoleWriter{Out: w, NoColor: !isTerminal(w)}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// Default builds the production logger: stderr, respecting FLUX_IMP_LOG_JSON
// and FLUX_IMP_LOG_LEVEL.
func Default(component string) zerolog.Logger {
	return New(os.Stderr, component)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

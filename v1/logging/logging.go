package logging

// Logger is the sink herd components log diagnostics through. A standard
// library *log.Logger satisfies it directly. Components treat the logger as
// optional: a missing one costs visibility, never behavior.
type Logger interface {
	Printf(format string, v ...any)
}

// Nop discards all output.
type Nop struct{}

func (Nop) Printf(string, ...any) {}

// OrNop returns l, or a Nop sink when l is nil, so callers never have to
// nil-check before logging.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}

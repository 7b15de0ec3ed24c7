// Package logging is the engine's pluggable logging collaborator.
//
// Every component takes a Logger; a nil Logger is replaced by Nop, so an
// unconfigured client never fails for want of a backend.
package logging

// Logger receives anomalies and lifecycle notes from the engine.
// kv is an alternating list of field names and values.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type nop struct{}

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any)  {}
func (nop) Warn(string, ...any)  {}
func (nop) Error(string, ...any) {}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nop{}
}

// OrNop returns l, or Nop when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}

// With returns a logger that prepends kv to every call.
func With(l Logger, kv ...any) Logger {
	l = OrNop(l)
	if _, ok := l.(nop); ok || len(kv) == 0 {
		return l
	}
	if z, ok := l.(*zlogger); ok {
		return z.with(kv)
	}
	return &fields{next: l, kv: kv}
}

type fields struct {
	next Logger
	kv   []any
}

func (f *fields) join(kv []any) []any {
	out := make([]any, 0, len(f.kv)+len(kv))
	out = append(out, f.kv...)
	return append(out, kv...)
}

func (f *fields) Debug(msg string, kv ...any) { f.next.Debug(msg, f.join(kv)...) }
func (f *fields) Info(msg string, kv ...any)  { f.next.Info(msg, f.join(kv)...) }
func (f *fields) Warn(msg string, kv ...any)  { f.next.Warn(msg, f.join(kv)...) }
func (f *fields) Error(msg string, kv ...any) { f.next.Error(msg, f.join(kv)...) }

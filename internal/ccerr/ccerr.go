// Package ccerr carries diagnostics between compiler phases.
//
// Every phase that can fail reports through a Diagnostic rather than
// calling os.Exit directly, so the driver decides how a failure in one
// phase affects the rest of the pipeline.
package ccerr

import "fmt"

// Severity classifies a Diagnostic.
type Severity int

const (
	Warning Severity = iota
	Fatal
)

// Diagnostic is a single compiler error or warning, tied to a source
// position when one is known.
type Diagnostic struct {
	Severity Severity
	File     string
	Line     int
	Message  string
}

func (d *Diagnostic) Error() string {
	sev := "error"
	if d.Severity == Warning {
		sev = "warning"
	}
	if d.File == "" {
		return fmt.Sprintf("%s: %s", sev, d.Message)
	}
	if d.Line <= 0 {
		return fmt.Sprintf("%s: %s: %s", d.File, sev, d.Message)
	}
	return fmt.Sprintf("%s:%d: %s: %s", d.File, d.Line, sev, d.Message)
}

// Fatalf builds a Fatal diagnostic.
func Fatalf(file string, line int, format string, args ...any) *Diagnostic {
	return &Diagnostic{Severity: Fatal, File: file, Line: line, Message: fmt.Sprintf(format, args...)}
}

// Warnf builds a Warning diagnostic.
func Warnf(file string, line int, format string, args ...any) *Diagnostic {
	return &Diagnostic{Severity: Warning, File: file, Line: line, Message: fmt.Sprintf(format, args...)}
}

// Bag accumulates diagnostics across a phase so that a phase can keep
// going after the first error, the way the parser does (Parse adds
// each failed top-level declaration to its Bag, carries on, and checks
// HasErrors at the end), and report everything it found in one pass.
type Bag struct {
	diags []*Diagnostic
}

func (b *Bag) Add(d *Diagnostic) {
	b.diags = append(b.diags, d)
}

func (b *Bag) Fatalf(file string, line int, format string, args ...any) {
	b.Add(Fatalf(file, line, format, args...))
}

func (b *Bag) Warnf(file string, line int, format string, args ...any) {
	b.Add(Warnf(file, line, format, args...))
}

func (b *Bag) HasErrors() bool {
	for _, d := range b.diags {
		if d.Severity == Fatal {
			return true
		}
	}
	return false
}

func (b *Bag) All() []*Diagnostic { return b.diags }

func (b *Bag) Count() int { return len(b.diags) }

// Package diag collects and formats diagnostics for the CLI and the
// validator.
package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Severity grades a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one reported finding. Where names the kernel, block, or
// value the finding refers to; it may be empty.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Where    string   `json:"where,omitempty"`
	Message  string   `json:"message"`
}

// Reporter writes diagnostics to a sink in text or json format and keeps
// counts.
type Reporter struct {
	mu       sync.Mutex
	w        io.Writer
	format   string
	errors   int
	warnings int
}

// NewReporter returns a reporter writing to w. format is "text" or "json";
// unknown formats fall back to text.
func NewReporter(w io.Writer, format string) *Reporter {
	if format != "json" {
		format = "text"
	}
	return &Reporter{w: w, format: format}
}

// Error reports an error located at where.
func (r *Reporter) Error(where, msg string) {
	r.emit(Diagnostic{Severity: SeverityError, Where: where, Message: msg})
}

// Errorf reports an unlocated error.
func (r *Reporter) Errorf(format string, args ...any) {
	r.emit(Diagnostic{Severity: SeverityError, Message: fmt.Sprintf(format, args...)})
}

// Warning reports a warning located at where.
func (r *Reporter) Warning(where, msg string) {
	r.emit(Diagnostic{Severity: SeverityWarning, Where: where, Message: msg})
}

// Warningf reports an unlocated warning.
func (r *Reporter) Warningf(format string, args ...any) {
	r.emit(Diagnostic{Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)})
}

func (r *Reporter) emit(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch d.Severity {
	case SeverityError:
		r.errors++
	case SeverityWarning:
		r.warnings++
	}
	if r.w == nil {
		return
	}
	if r.format == "json" {
		enc := json.NewEncoder(r.w)
		_ = enc.Encode(d)
		return
	}
	if d.Where != "" {
		fmt.Fprintf(r.w, "%s: %s: %s\n", d.Severity, d.Where, d.Message)
		return
	}
	fmt.Fprintf(r.w, "%s: %s\n", d.Severity, d.Message)
}

// HasErrors reports whether any error was emitted.
func (r *Reporter) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors > 0
}

// Counts returns the number of errors and warnings emitted so far.
func (r *Reporter) Counts() (errors, warnings int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors, r.warnings
}

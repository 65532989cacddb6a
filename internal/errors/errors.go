// Package errors defines the error kinds shared by every truthmint component.
//
// Each failure carries a stable Kind plus enough context (file path, line
// number or transaction step) for a user to act on it. Kinds are matched with
// errors.Is against the sentinel values below, through any amount of wrapping.
package errors

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind is a stable error kind string.
type Kind string

const (
	KindUsage           Kind = "E_USAGE"
	KindConfig          Kind = "E_CONFIG"
	KindAuthorityDrift  Kind = "E_AUTHORITY_DRIFT"
	KindContiguity      Kind = "E_CONTIGUITY"
	KindFormat          Kind = "E_FORMAT"
	KindTruncation      Kind = "E_TRUNCATION"
	KindArtifactMissing Kind = "E_ARTIFACT_MISSING"
	KindArtifactContent Kind = "E_ARTIFACT_CONTENT"
	KindScan            Kind = "E_SCAN"
	KindIndex           Kind = "E_INDEX"
	KindTransaction     Kind = "E_TRANSACTION"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrUsage           = &Error{Kind: KindUsage}
	ErrConfig          = &Error{Kind: KindConfig}
	ErrAuthorityDrift  = &Error{Kind: KindAuthorityDrift}
	ErrContiguity      = &Error{Kind: KindContiguity}
	ErrFormat          = &Error{Kind: KindFormat}
	ErrTruncation      = &Error{Kind: KindTruncation}
	ErrArtifactMissing = &Error{Kind: KindArtifactMissing}
	ErrArtifactContent = &Error{Kind: KindArtifactContent}
	ErrScan            = &Error{Kind: KindScan}
	ErrIndex           = &Error{Kind: KindIndex}
	ErrTransaction     = &Error{Kind: KindTransaction}
)

// Error is the standard truthmint error.
type Error struct {
	Kind  Kind
	Msg   string
	Path  string // repo-relative file, when the failure is tied to one
	Line  int    // 1-based line within Path, 0 if unknown
	Step  string // orchestrator step, for E_TRANSACTION
	Cause error
}

// Error renders "KIND: path:line: message" with empty parts omitted.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	if e.Step != "" {
		fmt.Fprintf(&b, "step %s: ", e.Step)
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind. A target with an
// empty Kind never matches.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind == "" {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// AtLine creates an error tied to a file location.
func AtLine(kind Kind, path string, line int, msg string) error {
	return &Error{Kind: kind, Path: path, Line: line, Msg: msg}
}

// AtPath creates an error tied to a file, wrapping cause.
func AtPath(kind Kind, path, msg string, cause error) error {
	return &Error{Kind: kind, Path: path, Msg: msg, Cause: cause}
}

// AtStep creates an E_TRANSACTION error for an orchestrator step.
func AtStep(step, msg string, cause error) error {
	return &Error{Kind: KindTransaction, Step: step, Msg: msg, Cause: cause}
}

// GetKind returns the kind of the first *Error in err's chain, or "".
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is, As and Join forward to the standard library so callers can import a
// single errors package.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }

// ExitCode returns 0 for nil, 2 for usage errors and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if GetKind(err) == KindUsage {
		return 2
	}
	return 1
}

// Print writes err to w in the stable stderr format:
//
//	error_code: <KIND>
//	<message>
func Print(w io.Writer, err error) {
	if err == nil {
		return
	}
	if kind := GetKind(err); kind != "" {
		fmt.Fprintf(w, "error_code: %s\n", kind)
	}
	fmt.Fprintln(w, err.Error())
}

// Package rerrors defines the structured error taxonomy shared by the tool
// runner and agent runner.
package rerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes an error for retry policy and surfacing decisions.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuth           Kind = "auth"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindTransport      Kind = "transport"
	KindTimeout        Kind = "timeout"
	KindExecutorFault  Kind = "executor_fault"
	KindLLMTimeout     Kind = "llm_timeout"
	KindLLMParse       Kind = "llm_parse"
	KindConfigMissing  Kind = "config_missing"
	KindFatal          Kind = "fatal"
)

// Retryable reports whether an error of this kind is worth retrying.
func (k Kind) Retryable() bool {
	switch k {
	case KindConflict, KindTransport, KindTimeout, KindLLMTimeout:
		return true
	default:
		return false
	}
}

// Error is the structured error type both runners raise and classify on.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// KindOf returns the Kind of err, classifying structurally unknown errors
// by inspecting their message for well-known substrings as a last resort.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if re, ok := As(err); ok {
		return re.Kind
	}
	return Classify(err)
}

// Classify infers a Kind for an error that did not arrive as *Error,
// e.g. one surfaced directly from net/http or context.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, errConflict) {
		return KindConflict
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return KindTimeout
	case strings.Contains(msg, "connection"), strings.Contains(msg, "dns"),
		strings.Contains(msg, "refused"), strings.Contains(msg, "unreachable"),
		strings.Contains(msg, "eof"):
		return KindTransport
	case strings.Contains(msg, "409"), strings.Contains(msg, "conflict"), strings.Contains(msg, "version mismatch"):
		return KindConflict
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		return KindNotFound
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"):
		return KindAuth
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "validation"), strings.Contains(msg, "required"):
		return KindValidation
	default:
		return KindExecutorFault
	}
}

var errConflict = errors.New("conflict")

// IsRetryable reports whether err (structured or not) should be retried.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

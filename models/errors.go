package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidInput          ErrorKind = "invalid_input"
	KindEncodingFailure       ErrorKind = "encoding_failure"
	KindUpstreamUnavailable   ErrorKind = "upstream_unavailable"
	KindUpstreamTimeout       ErrorKind = "upstream_timeout"
	KindUpstreamDecodeFailure ErrorKind = "upstream_decode_failure"
	KindQuotaExceeded         ErrorKind = "quota_exceeded"
	KindUnknown               ErrorKind = "unknown"
)

// TryOnError is the single error type surfaced by the pipeline. Op names the
// step or the image the failure belongs to ("subject", "garment", "generate").
type TryOnError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TryOnError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TryOnError) Unwrap() error {
	return e.Err
}

func NewTryOnError(kind ErrorKind, op string, message string, err error) *TryOnError {
	return &TryOnError{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first TryOnError in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var tryOnErr *TryOnError
	if errors.As(err, &tryOnErr) {
		return tryOnErr.Kind
	}
	return KindUnknown
}

// AsTryOnError unwraps err into a TryOnError, or wraps it as an unknown failure.
func AsTryOnError(err error) *TryOnError {
	var tryOnErr *TryOnError
	if errors.As(err, &tryOnErr) {
		return tryOnErr
	}
	return &TryOnError{Kind: KindUnknown, Err: err}
}

func ParseErrorKind(code string) ErrorKind {
	switch ErrorKind(code) {
	case KindInvalidInput, KindEncodingFailure, KindUpstreamUnavailable,
		KindUpstreamTimeout, KindUpstreamDecodeFailure, KindQuotaExceeded:
		return ErrorKind(code)
	}
	return KindUnknown
}

package asan

import (
	"errors"
	"fmt"
)

// ErrParse matches every ParseError via errors.Is.
var ErrParse = errors.New("sanitizer report parse failure")

var (
	ErrHeaderMissing  = errors.New("summary header line missing")
	ErrHeaderTooShort = errors.New("summary header has too few tokens")
	ErrBadAddress     = errors.New("fault address is not hexadecimal")
	ErrNoFrames       = errors.New("no frame starting with #0")
)

// ParseError is returned by parsers when mandatory parts of the report are missing.
type ParseError struct {
	Kind   error  // one of the Err* sentinels above
	Detail string // offending line or token
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %v", ErrParse, e.Kind)
	}
	return fmt.Sprintf("%v: %v: %q", ErrParse, e.Kind, e.Detail)
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func parseError(kind error, detail string) error {
	return &ParseError{Kind: kind, Detail: detail}
}

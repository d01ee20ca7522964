package asan

import (
	"fmt"
)

// Cause classifies the memory error reported by the sanitizer.
type Cause int

const (
	Unknown Cause = iota
	HeapBufferOverflow
	DoubleFree
	UseAfterFree
)

func (c Cause) String() string {
	switch c {
	case HeapBufferOverflow:
		return "HeapBufferOverflow"
	case DoubleFree:
		return "DoubleFree"
	case UseAfterFree:
		return "UseAfterFree"
	default:
		return "Unknown"
	}
}

func (c Cause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cause) UnmarshalText(text []byte) error {
	switch string(text) {
	case "HeapBufferOverflow":
		*c = HeapBufferOverflow
	case "DoubleFree":
		*c = DoubleFree
	case "UseAfterFree":
		*c = UseAfterFree
	case "Unknown", "":
		*c = Unknown
	default:
		return fmt.Errorf("unknown crash cause %q", text)
	}
	return nil
}

// CrashReport is the structured form of one sanitizer diagnostic.
// Reports are built by a Parser (or by Degraded) and not modified afterwards.
type CrashReport struct {
	Cause        Cause
	FaultAddress uint64
	Backtrace    []string
	RawText      string
}

// Degraded returns the minimal report used when the text could not be parsed.
// The raw text is kept so the crash can still be triaged by hand.
func Degraded(text string) *CrashReport {
	return &CrashReport{
		Cause:     Unknown,
		Backtrace: []string{},
		RawText:   text,
	}
}

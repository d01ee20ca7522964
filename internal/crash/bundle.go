package crash

import (
	"encoding/json"
	"fmt"
	"os"

	"netfuzz/internal/asan"
	"netfuzz/internal/types"
)

const (
	BundleExt  = ".ffw"
	SummaryExt = ".txt"
)

// CrashData is the crash half of a bundle. The analyzer output is kept as
// bytes so target output that is not valid UTF-8 survives the JSON encoding.
type CrashData struct {
	Backtrace      []string   `json:"backtrace"`
	Cause          asan.Cause `json:"cause"`
	FaultAddress   uint64     `json:"faultAddress"`
	AnalyzerOutput []byte     `json:"analyzerOutput"`
	Signum         int        `json:"signum"`
	Exitcode       int        `json:"exitcode"`
	Reallydead     bool       `json:"reallydead"`
	Serverpid      int        `json:"serverpid"`
}

// Bundle is the re-loadable artifact written for every crash.
type Bundle struct {
	FuzzerCrashData CrashData             `json:"fuzzerCrashData"`
	FuzzIterData    types.IterationRecord `json:"fuzzIterData"`
}

func NewBundle(report *asan.CrashReport, record *types.IterationRecord, outcome types.ProcessOutcome) *Bundle {
	backtrace := report.Backtrace
	if backtrace == nil {
		backtrace = []string{}
	}
	return &Bundle{
		FuzzerCrashData: CrashData{
			Backtrace:      backtrace,
			Cause:          report.Cause,
			FaultAddress:   report.FaultAddress,
			AnalyzerOutput: []byte(report.RawText),
			Signum:         outcome.Signal,
			Exitcode:       outcome.ExitCode,
			Reallydead:     outcome.ReallyDead,
			Serverpid:      outcome.ServerPID,
		},
		FuzzIterData: *record,
	}
}

func (b *Bundle) Report() *asan.CrashReport {
	return &asan.CrashReport{
		Cause:        b.FuzzerCrashData.Cause,
		FaultAddress: b.FuzzerCrashData.FaultAddress,
		Backtrace:    b.FuzzerCrashData.Backtrace,
		RawText:      string(b.FuzzerCrashData.AnalyzerOutput),
	}
}

func (b *Bundle) Outcome() types.ProcessOutcome {
	return types.ProcessOutcome{
		Signal:     b.FuzzerCrashData.Signum,
		ExitCode:   b.FuzzerCrashData.Exitcode,
		ReallyDead: b.FuzzerCrashData.Reallydead,
		ServerPID:  b.FuzzerCrashData.Serverpid,
	}
}

// LoadBundle reads a bundle written by Exporter.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read crash bundle: %w", err)
	}
	bundle := &Bundle{}
	if err := json.Unmarshal(data, bundle); err != nil {
		return nil, fmt.Errorf("failed to decode crash bundle %s: %w", path, err)
	}
	return bundle, nil
}

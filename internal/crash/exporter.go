package crash

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"netfuzz/internal/asan"
	"netfuzz/internal/types"
)

// ErrNoIteration is returned when a crash is reported without the iteration
// that caused it. Nothing is written in that case.
var ErrNoIteration = errors.New("crash without fuzz iteration")

type ExporterConfig struct {
	OutcomeDir string
	Fuzzer     string
	TargetBin  string
}

// Exporter persists crashes to the outcome directory, which is shared by all
// workers. File names are derived from the iteration seed.
type Exporter struct {
	cfg    ExporterConfig
	logger *zap.Logger
}

func NewExporter(cfg ExporterConfig, logger *zap.Logger) (*Exporter, error) {
	if err := os.MkdirAll(cfg.OutcomeDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create outcome directory: %w", err)
	}
	return &Exporter{cfg, logger}, nil
}

// Export writes <seed>.ffw and <seed>.txt. Every write failure is logged at
// error level and returned.
func (e *Exporter) Export(report *asan.CrashReport, record *types.IterationRecord, outcome types.ProcessOutcome) error {
	if record == nil {
		e.logger.Error("received no fuzz iteration for crash, wrong server-down detection?",
			zap.Int("signal", outcome.Signal),
			zap.Int("server_pid", outcome.ServerPID))
		return ErrNoIteration
	}
	if report == nil {
		report = asan.Degraded("")
	}

	seed := record.Seed
	if seed == "" || filepath.Base(seed) != seed || strings.HasPrefix(seed, ".") {
		err := fmt.Errorf("seed %q cannot be used as artifact name", seed)
		e.logger.Error("failed to export crash", zap.Error(err))
		return err
	}
	logger := e.logger.With(zap.String("seed", seed))

	var errs []error
	bundle := NewBundle(report, record, outcome)
	bundlePath := filepath.Join(e.cfg.OutcomeDir, seed+BundleExt)
	if err := writeBundle(bundlePath, bundle); err != nil {
		logger.Error("failed to write crash bundle", zap.String("path", bundlePath), zap.Error(err))
		errs = append(errs, err)
	}

	summaryPath := filepath.Join(e.cfg.OutcomeDir, seed+SummaryExt)
	if err := writeFileAtomic(summaryPath, e.summary(report, record, outcome)); err != nil {
		logger.Error("failed to write crash summary", zap.String("path", summaryPath), zap.Error(err))
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info("crash exported",
		zap.Stringer("cause", report.Cause),
		zap.String("fault_address", fmt.Sprintf("%#x", report.FaultAddress)),
		zap.Int("signal", outcome.Signal),
		zap.String("bundle", bundlePath))
	return nil
}

func (e *Exporter) summary(report *asan.CrashReport, record *types.IterationRecord, outcome types.ProcessOutcome) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Seed: %s\n", record.Seed)
	fmt.Fprintf(&sb, "Fuzzer: %s\n", e.cfg.Fuzzer)
	fmt.Fprintf(&sb, "Target: %s\n", e.cfg.TargetBin)
	fmt.Fprintf(&sb, "Time: %s\n", record.Time.Format(time.RFC3339Nano))
	fmt.Fprintf(&sb, "Fuzzerpos: %s\n", report.Cause)
	fmt.Fprintf(&sb, "Signal: %d\n", outcome.Signal)
	fmt.Fprintf(&sb, "Exitcode: %d\n", outcome.ExitCode)
	fmt.Fprintf(&sb, "Reallydead: %s\n", strconv.FormatBool(outcome.ReallyDead))
	fmt.Fprintf(&sb, "PID: %d\n", outcome.ServerPID)
	fmt.Fprintf(&sb, "Asanoutput: %s\n", report.RawText)
	return []byte(sb.String())
}

func writeBundle(path string, bundle *Bundle) error {
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode crash bundle: %w", err)
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes into a hidden temporary file and renames it, so
// readers of the outcome directory never see a partial artifact.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

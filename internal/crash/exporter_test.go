package crash

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"netfuzz/internal/asan"
	"netfuzz/internal/types"
)

func newTestExporter(t *testing.T) (*Exporter, string, *observer.ObservedLogs) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "out")
	core, logs := observer.New(zapcore.DebugLevel)
	exporter, err := NewExporter(ExporterConfig{
		OutcomeDir: dir,
		Fuzzer:     "radamsa",
		TargetBin:  "/opt/target/mqtt_client",
	}, zap.New(core))
	require.NoError(t, err)
	return exporter, dir, logs
}

func testReport() *asan.CrashReport {
	return &asan.CrashReport{
		Cause:        asan.HeapBufferOverflow,
		FaultAddress: 0x60200000eed8,
		Backtrace:    []string{"0x55b0a2 (bin+0x55b0a2)", "0x55cf04 (bin+0x55cf04)"},
		RawText:      "=====\n==1==ERROR: AddressSanitizer: heap-buffer-overflow ...\n",
	}
}

func testRecord(seed string) *types.IterationRecord {
	return &types.IterationRecord{
		Seed:      seed,
		InputName: "connect.raw",
		Payload:   []byte{0x10, 0x0c, 0x00, 0x04, 'M', 'Q', 'T', 'T'},
		Time:      time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
	}
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}

func TestExportWritesTwoFiles(t *testing.T) {
	exporter, dir, _ := newTestExporter(t)
	outcome := types.ProcessOutcome{Signal: 6, ExitCode: -1, ReallyDead: true, ServerPID: 4242}

	require.NoError(t, exporter.Export(testReport(), testRecord("42"), outcome))
	assert.Equal(t, []string{"42.ffw", "42.txt"}, dirNames(t, dir))
}

func TestExportRoundTrip(t *testing.T) {
	exporter, dir, _ := newTestExporter(t)
	outcome := types.ProcessOutcome{Signal: 11, ExitCode: -1, ReallyDead: true, ServerPID: 77}
	report := testReport()
	record := testRecord("1337")

	require.NoError(t, exporter.Export(report, record, outcome))

	bundle, err := LoadBundle(filepath.Join(dir, "1337.ffw"))
	require.NoError(t, err)
	loaded := bundle.Report()
	assert.Equal(t, report.Cause, loaded.Cause)
	assert.Equal(t, report.FaultAddress, loaded.FaultAddress)
	assert.Equal(t, report.Backtrace, loaded.Backtrace)
	assert.Equal(t, report.RawText, loaded.RawText)
	assert.Equal(t, outcome, bundle.Outcome())
	assert.Equal(t, record.Seed, bundle.FuzzIterData.Seed)
	assert.Equal(t, record.Payload, bundle.FuzzIterData.Payload)
	assert.True(t, record.Time.Equal(bundle.FuzzIterData.Time))
}

func TestExportDegradedReport(t *testing.T) {
	exporter, dir, _ := newTestExporter(t)
	require.NoError(t, exporter.Export(asan.Degraded("garbage"), testRecord("7"), types.ProcessOutcome{Signal: 11}))

	bundle, err := LoadBundle(filepath.Join(dir, "7.ffw"))
	require.NoError(t, err)
	assert.Equal(t, asan.Unknown, bundle.FuzzerCrashData.Cause)
	assert.Zero(t, bundle.FuzzerCrashData.FaultAddress)
	assert.Empty(t, bundle.FuzzerCrashData.Backtrace)
	assert.Equal(t, "garbage", bundle.Report().RawText)
}

func TestExportSummaryOrder(t *testing.T) {
	exporter, dir, _ := newTestExporter(t)
	outcome := types.ProcessOutcome{Signal: 6, ExitCode: 134, ReallyDead: false, ServerPID: 99}
	require.NoError(t, exporter.Export(testReport(), testRecord("42"), outcome))

	data, err := os.ReadFile(filepath.Join(dir, "42.txt"))
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	prefixes := []string{"Seed:", "Fuzzer:", "Target:", "Time:", "Fuzzerpos:",
		"Signal:", "Exitcode:", "Reallydead:", "PID:", "Asanoutput:"}
	for i, prefix := range prefixes {
		assert.True(t, strings.HasPrefix(lines[i], prefix), "line %d is %q, want prefix %q", i, lines[i], prefix)
	}
	assert.Equal(t, "Seed: 42", lines[0])
	assert.Equal(t, "Fuzzer: radamsa", lines[1])
	assert.Equal(t, "Target: /opt/target/mqtt_client", lines[2])
	assert.Equal(t, "Time: 2026-10-18T12:00:00Z", lines[3])
	assert.Equal(t, "Fuzzerpos: HeapBufferOverflow", lines[4])
	assert.Equal(t, "Signal: 6", lines[5])
	assert.Equal(t, "Exitcode: 134", lines[6])
	assert.Equal(t, "Reallydead: false", lines[7])
	assert.Equal(t, "PID: 99", lines[8])
}

func TestExportNilRecord(t *testing.T) {
	exporter, dir, logs := newTestExporter(t)

	var err error
	assert.NotPanics(t, func() {
		err = exporter.Export(testReport(), nil, types.ProcessOutcome{Signal: 11})
	})
	assert.ErrorIs(t, err, ErrNoIteration)
	assert.Empty(t, dirNames(t, dir))
	errorLogs := logs.FilterLevelExact(zapcore.ErrorLevel)
	assert.Equal(t, 1, errorLogs.Len())
}

func TestExportRejectsPathSeed(t *testing.T) {
	exporter, dir, _ := newTestExporter(t)
	err := exporter.Export(testReport(), testRecord("../escape"), types.ProcessOutcome{Signal: 11})
	assert.Error(t, err)
	assert.Empty(t, dirNames(t, dir))
}

func TestExportWriteFailureIsReported(t *testing.T) {
	exporter, dir, logs := newTestExporter(t)
	require.NoError(t, os.RemoveAll(dir))

	err := exporter.Export(testReport(), testRecord("42"), types.ProcessOutcome{Signal: 11})
	require.Error(t, err)
	assert.Equal(t, 2, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestExportKeepsRawBytes(t *testing.T) {
	exporter, dir, _ := newTestExporter(t)
	raw := "==1==ERROR: AddressSanitizer: heap-buffer-overflow\n\xff\xfe binary tail\r\n"
	report, err := asan.NewAsanParser().Parse("=====\n" +
		"==1==ERROR: AddressSanitizer: heap-buffer-overflow on address 0x10 at pc 0x20 bp 0x30\n" +
		"#0 0x40 in \xff /src/a.c:1\n")
	require.NoError(t, err)
	report.RawText = raw

	require.NoError(t, exporter.Export(report, testRecord("9"), types.ProcessOutcome{Signal: 6}))

	bundle, err := LoadBundle(filepath.Join(dir, "9.ffw"))
	require.NoError(t, err)
	loaded := bundle.Report()
	assert.Equal(t, raw, loaded.RawText)
	assert.Equal(t, report.Backtrace, loaded.Backtrace)
}

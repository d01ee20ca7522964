// Package asan turns AddressSanitizer console output into a CrashReport.
//
// The extraction is positional: the summary header is the second line of the
// report and the backtrace starts at the first "#0" frame. Reports that do not
// follow that layout produce a *ParseError; callers that must not lose the
// crash use ParseOrDegrade.
package asan

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Parser converts raw sanitizer output into a CrashReport.
type Parser interface {
	Parse(text string) (*CrashReport, error)
}

const (
	headerLineIdx   = 1 // first line is the "=====" banner
	headerMinTokens = 9
	addressTokenIdx = 8 // legacy fixed slot, used when no 0x operand is found
	frameMarker     = "#0"
	runtimeLibrary  = "libasan.so"
)

// matched against the header line in order, first match wins
var causeRules = []struct {
	needle string
	cause  Cause
}{
	{"heap-buffer-overflow", HeapBufferOverflow},
	{"attempting double-free", DoubleFree},
	{"heap-use-after-free", UseAfterFree},
}

var pathPrefix = regexp.MustCompile(`/.*/`)

// CRLF first so it counts as one break, a lone CR is a break of its own
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

type AsanParser struct{}

func NewAsanParser() *AsanParser {
	return &AsanParser{}
}

func (p *AsanParser) Parse(text string) (*CrashReport, error) {
	rawLines := strings.Split(lineBreaks.Replace(text), "\n")
	lines := make([]string, 0, len(rawLines))
	for _, line := range rawLines {
		lines = append(lines, strings.TrimSpace(line))
	}
	// a trailing newline is not a line of its own
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) <= headerLineIdx {
		return nil, parseError(ErrHeaderMissing, "")
	}
	header := lines[headerLineIdx]

	faultAddress, err := parseFaultAddress(header)
	if err != nil {
		return nil, err
	}

	start := -1
	for idx, line := range lines {
		if strings.HasPrefix(line, frameMarker) {
			start = idx
			break
		}
	}
	if start == -1 {
		return nil, parseError(ErrNoFrames, "")
	}
	// frame #0 inside the sanitizer runtime is the interceptor, the real frame follows
	if isRuntimeFrame(lines[start]) {
		start++
	}

	return &CrashReport{
		Cause:        classify(header),
		FaultAddress: faultAddress,
		Backtrace:    extractBacktrace(lines[start:]),
		RawText:      text,
	}, nil
}

func classify(header string) Cause {
	for _, rule := range causeRules {
		if strings.Contains(header, rule.needle) {
			return rule.cause
		}
	}
	return Unknown
}

// parseFaultAddress reads the address operand of the summary header, e.g.
// "==58842==ERROR: AddressSanitizer: heap-buffer-overflow on address 0x60200000eed8 at pc ...".
// The first 0x operand after the error description is the faulting address;
// headers without one fall back to the fixed token slot.
func parseFaultAddress(header string) (uint64, error) {
	tokens := strings.Fields(header)
	if len(tokens) < headerMinTokens {
		return 0, parseError(ErrHeaderTooShort, header)
	}
	token := tokens[addressTokenIdx]
	for _, tok := range tokens[2:] {
		if strings.HasPrefix(tok, "0x") {
			token = tok
			break
		}
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSuffix(token, ":"), "0x"), 16, 64)
	if err != nil {
		return 0, parseError(ErrBadAddress, token)
	}
	return addr, nil
}

func isRuntimeFrame(line string) bool {
	tokens := strings.Fields(line)
	for _, tok := range tokens[1:] {
		if strings.Contains(tok, runtimeLibrary) {
			return true
		}
	}
	return false
}

// extractBacktrace keeps tokens 2 and 3 of every frame line, e.g.
// "#1 0x55f0dffae17a in mg_mqtt_destroy_session ../../mongoose.c:10445" -> "in mg_mqtt_destroy_session".
// Symbol-less frames "#1 0x55cf04 (/path/bin+0x55cf04)" keep address and module.
func extractBacktrace(lines []string) []string {
	backtrace := make([]string, 0, len(lines))
	for _, line := range lines {
		tokens := strings.Fields(line)
		var frame string
		switch {
		case len(tokens) > 3:
			frame = tokens[2] + " " + tokens[3]
		case len(tokens) == 3 && isFrameLabel(tokens[0]) && strings.HasPrefix(tokens[2], "("):
			frame = tokens[1] + " " + tokens[2]
		default:
			continue
		}
		// frames end up in JSON bundles, which only carry valid UTF-8
		frame = strings.ToValidUTF8(pathPrefix.ReplaceAllString(frame, ""), "\uFFFD")
		backtrace = append(backtrace, frame)
	}
	return backtrace
}

func isFrameLabel(token string) bool {
	if len(token) < 2 || token[0] != '#' {
		return false
	}
	_, err := strconv.Atoi(token[1:])
	return err == nil
}

// ParseFile reads a sanitizer log from disk and parses it.
// The returned text is the file content, also on parse failure.
func ParseFile(p Parser, path string, logger *zap.Logger) (*CrashReport, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read sanitizer log: %w", err)
	}
	text := string(data)
	logger.Debug("loaded sanitizer log", zap.String("path", path), zap.String("content", text))
	report, err := p.Parse(text)
	return report, text, err
}

// ParseOrDegrade never fails: when the parser rejects the text the failure is
// logged and a degraded report keeping the raw text is returned.
func ParseOrDegrade(p Parser, text string, logger *zap.Logger) *CrashReport {
	report, err := p.Parse(text)
	if err != nil {
		logger.Warn("failed to parse sanitizer output, exporting degraded report",
			zap.Error(err),
			zap.String("analyzer_output", text))
		return Degraded(text)
	}
	return report
}

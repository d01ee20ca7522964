package telemetry

type ActionCategory int

const (
	Fuzzing = iota
	CrashExport
	Triage
	Coordination
)

func (a ActionCategory) String() string {
	switch a {
	case Fuzzing:
		return "fuzzing"
	case CrashExport:
		return "crash_export"
	case Triage:
		return "triage"
	case Coordination:
		return "coordination"
	default:
		return "unknown"
	}
}

package worker

type State int32

const (
	Init State = iota
	ServerStarting
	Failed
	Looping
	SelectInput
	Mutate
	ConfigureTarget
	Execute
	AwaitOutcome
	UpdateStats
	CrashDetected
	ExportCrash
	Terminated
)

var stateNames = [...]string{
	Init:            "init",
	ServerStarting:  "server_starting",
	Failed:          "failed",
	Looping:         "looping",
	SelectInput:     "select_input",
	Mutate:          "mutate",
	ConfigureTarget: "configure_target",
	Execute:         "execute",
	AwaitOutcome:    "await_outcome",
	UpdateStats:     "update_stats",
	CrashDetected:   "crash_detected",
	ExportCrash:     "export_crash",
	Terminated:      "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

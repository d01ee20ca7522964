package types

import "time"

// one fuzzing iteration, as produced by the mutation engine
type IterationRecord struct {
	Seed      string    `json:"seed"`
	InputName string    `json:"input"`
	Payload   []byte    `json:"data"`
	Time      time.Time `json:"time"`
}

// ProcessOutcome describes how the target process ended after an iteration.
type ProcessOutcome struct {
	Signal     int  `json:"signum"`
	ExitCode   int  `json:"exitcode"`
	ReallyDead bool `json:"reallydead"`
	ServerPID  int  `json:"serverpid"`
}

// Crashed reports whether the process was killed by a signal.
func (p ProcessOutcome) Crashed() bool {
	return p.Signal != 0
}

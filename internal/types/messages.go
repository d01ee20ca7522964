package types

// StatsMessage is sent from a worker to the coordinator over the reporting channel.
type StatsMessage struct {
	WorkerID            int     `json:"worker_id"`
	IterationsPerSecond float64 `json:"iterations_per_second"`
	TotalCount          uint64  `json:"total_count"`
	CrashCount          uint64  `json:"crash_count"`
}

// CrashNotification announces a crash bundle found in the outcome directory.
type CrashNotification struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	Seed       string `json:"seed"`
	BundlePath string `json:"bundle_path"`
	Cause      string `json:"cause"`
	Fuzzer     string `json:"fuzzer"`
	Target     string `json:"target"`
}

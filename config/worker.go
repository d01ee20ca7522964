package config

import (
	"fmt"
	"os"
	"strconv"
)

// environment handed from the coordinator to every worker process
const (
	WorkerIDEnv   = "NETFUZZ_WORKER_ID"
	WorkerSeedEnv = "NETFUZZ_WORKER_SEED"
	StatsFDEnv    = "NETFUZZ_STATS_FD"
)

type WorkerIdentity struct {
	ID      int
	Seed    int64
	StatsFD int // 0 when the worker runs without a coordinator
}

func LoadWorkerIdentity() (WorkerIdentity, error) {
	var ident WorkerIdentity
	idStr := os.Getenv(WorkerIDEnv)
	if idStr == "" {
		return ident, fmt.Errorf("%s is not set", WorkerIDEnv)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 {
		return ident, fmt.Errorf("invalid %s %q", WorkerIDEnv, idStr)
	}
	ident.ID = id

	if seedStr := os.Getenv(WorkerSeedEnv); seedStr != "" {
		seed, err := strconv.ParseInt(seedStr, 10, 64)
		if err != nil {
			return ident, fmt.Errorf("invalid %s %q: %w", WorkerSeedEnv, seedStr, err)
		}
		ident.Seed = seed
	}
	if fdStr := os.Getenv(StatsFDEnv); fdStr != "" {
		fd, err := strconv.Atoi(fdStr)
		if err != nil || fd < 3 {
			return ident, fmt.Errorf("invalid %s %q", StatsFDEnv, fdStr)
		}
		ident.StatsFD = fd
	}
	return ident, nil
}

// Environ returns the variables that identify the worker to its process.
func (w WorkerIdentity) Environ() []string {
	env := []string{
		fmt.Sprintf("%s=%d", WorkerIDEnv, w.ID),
		fmt.Sprintf("%s=%d", WorkerSeedEnv, w.Seed),
	}
	if w.StatsFD != 0 {
		env = append(env, fmt.Sprintf("%s=%d", StatsFDEnv, w.StatsFD))
	}
	return env
}

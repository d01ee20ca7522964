package mutator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"netfuzz/internal/corpus"
	"netfuzz/internal/types"
)

type RadamsaMutator struct {
	path  string
	seeds *seedSource
}

// NewRadamsa resolves the radamsa binary up front so a missing tool fails at startup.
func NewRadamsa(path string, seeds *seedSource) (*RadamsaMutator, error) {
	if path == "" {
		path = Radamsa
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("radamsa not found: %w", err)
	}
	return &RadamsaMutator{resolved, seeds}, nil
}

func (r *RadamsaMutator) Mutate(ctx context.Context, input corpus.Input) (*types.IterationRecord, error) {
	seed, value, now := r.seeds.next()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.path, "--seed", strconv.FormatInt(value, 10))
	cmd.Stdin = bytes.NewReader(input.Data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("radamsa exited with %d: %s", exitErr.ExitCode(), stderr.String())
		}
		return nil, fmt.Errorf("failed to run radamsa: %w", err)
	}

	return &types.IterationRecord{
		Seed:      seed,
		InputName: input.Name,
		Payload:   stdout.Bytes(),
		Time:      now,
	}, nil
}

package types

import "github.com/google/uuid"

// RunID identifies one coordinator run across crash rows, notifications
// and the redis stats mirror.
type RunID string

func NewRunID() RunID {
	return RunID(uuid.NewString())
}

package mutator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"netfuzz/internal/corpus"
	"netfuzz/internal/types"
)

const (
	Radamsa = "radamsa"
	BitFlip = "bitflip"
)

// Mutator turns a corpus input into the payload of one fuzzing iteration.
type Mutator interface {
	Mutate(ctx context.Context, input corpus.Input) (*types.IterationRecord, error)
}

type Config struct {
	Name        string
	WorkerID    int
	Seed        int64
	RadamsaPath string
}

func New(cfg Config) (Mutator, error) {
	seeds := newSeedSource(cfg.WorkerID, cfg.Seed)
	switch cfg.Name {
	case Radamsa:
		return NewRadamsa(cfg.RadamsaPath, seeds)
	case BitFlip:
		return NewBitFlipper(seeds), nil
	default:
		return nil, fmt.Errorf("unknown fuzzer %q", cfg.Name)
	}
}

// seedSource hands out the per-iteration mutation seeds. The seed string
// names the crash artifacts, the value drives the mutation.
type seedSource struct {
	mu       sync.Mutex
	workerID int
	rng      *rand.Rand
	now      func() time.Time
}

func newSeedSource(workerID int, seed int64) *seedSource {
	return &seedSource{
		workerID: workerID,
		rng:      rand.New(rand.NewSource(seed)),
		now:      time.Now,
	}
}

func (s *seedSource) next() (string, int64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value := s.rng.Int63()
	return fmt.Sprintf("%d-%d", s.workerID, value), value, s.now()
}

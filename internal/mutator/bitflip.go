package mutator

import (
	"bytes"
	"context"
	"math/rand"

	"netfuzz/internal/corpus"
	"netfuzz/internal/types"
)

const maxFlips = 8

// BitFlipper is a builtin mutator for hosts without radamsa. The same seed
// value and input always give the same payload.
type BitFlipper struct {
	seeds *seedSource
}

func NewBitFlipper(seeds *seedSource) *BitFlipper {
	return &BitFlipper{seeds}
}

func (b *BitFlipper) Mutate(ctx context.Context, input corpus.Input) (*types.IterationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seed, value, now := b.seeds.next()
	return &types.IterationRecord{
		Seed:      seed,
		InputName: input.Name,
		Payload:   flipBits(input.Data, value),
		Time:      now,
	}, nil
}

func flipBits(data []byte, value int64) []byte {
	rng := rand.New(rand.NewSource(value))
	if len(data) == 0 {
		return []byte{byte(rng.Intn(256))}
	}
	out := make([]byte, len(data))
	copy(out, data)
	flips := 1 + rng.Intn(maxFlips)
	for range flips {
		pos := rng.Intn(len(out) * 8)
		out[pos/8] ^= 1 << (pos % 8)
	}
	// an even number of flips on the same bit cancels out
	if bytes.Equal(out, data) {
		out[0] ^= 1
	}
	return out
}

package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"netfuzz/internal/types"

	"github.com/redis/go-redis/v9"
)

const mirrorTTL = 24 * time.Hour

// StatsKey is the redis hash holding the latest message of every worker of a run.
func StatsKey(runID types.RunID) string {
	return fmt.Sprintf("netfuzz:stats:%s", runID)
}

type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(client *redis.Client, runID types.RunID) *RedisMirror {
	return &RedisMirror{client, StatsKey(runID)}
}

func (m *RedisMirror) Mirror(ctx context.Context, msg types.StatsMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, m.key, strconv.Itoa(msg.WorkerID), payload)
	pipe.Expire(ctx, m.key, mirrorTTL)
	_, err = pipe.Exec(ctx)
	return err
}

package coordinator

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"netfuzz/internal/types"
)

// Table holds the latest stats message of every worker.
type Table struct {
	mu      sync.Mutex
	workers map[int]types.StatsMessage
}

func NewTable() *Table {
	return &Table{workers: make(map[int]types.StatsMessage)}
}

func (t *Table) Update(msg types.StatsMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workers[msg.WorkerID] = msg
}

type Totals struct {
	Workers             int
	IterationsPerSecond float64
	TotalCount          uint64
	CrashCount          uint64
}

func (t *Table) Totals() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total Totals
	for _, msg := range t.workers {
		total.Workers++
		total.IterationsPerSecond += msg.IterationsPerSecond
		total.TotalCount += msg.TotalCount
		total.CrashCount += msg.CrashCount
	}
	return total
}

// String renders one "id: exec/s total crashes" line per worker, ordered by
// worker id, followed by the totals.
func (t *Table) String() string {
	t.mu.Lock()
	ids := make([]int, 0, len(t.workers))
	for id := range t.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var b strings.Builder
	for _, id := range ids {
		msg := t.workers[id]
		fmt.Fprintf(&b, "%d: %4.2f  %8d  %5d\n", id, msg.IterationsPerSecond, msg.TotalCount, msg.CrashCount)
	}
	t.mu.Unlock()

	total := t.Totals()
	fmt.Fprintf(&b, "All: %4.2f  %8d  %5d\n", total.IterationsPerSecond, total.TotalCount, total.CrashCount)
	return b.String()
}

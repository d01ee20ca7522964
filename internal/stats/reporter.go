package stats

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"netfuzz/internal/types"
)

const QueueSize = 1024

// ChanReporter hands messages to an in-process consumer. When the channel is
// full the message is dropped.
type ChanReporter struct {
	ch      chan types.StatsMessage
	dropped atomic.Uint64
}

func NewChanReporter(size int) *ChanReporter {
	return &ChanReporter{ch: make(chan types.StatsMessage, size)}
}

func (r *ChanReporter) Report(msg types.StatsMessage) {
	select {
	case r.ch <- msg:
	default:
		r.dropped.Add(1)
	}
}

func (r *ChanReporter) C() <-chan types.StatsMessage {
	return r.ch
}

func (r *ChanReporter) Dropped() uint64 {
	return r.dropped.Load()
}

// PipeReporter writes messages as JSON lines to w, usually the pipe inherited
// from the coordinator. Writing happens on a separate goroutine so a stalled
// reader only costs dropped messages.
type PipeReporter struct {
	queue   chan types.StatsMessage
	logger  *zap.Logger
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

func NewPipeReporter(w io.Writer, logger *zap.Logger) *PipeReporter {
	r := &PipeReporter{
		queue:  make(chan types.StatsMessage, QueueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.drain(w)
	return r
}

func (r *PipeReporter) Report(msg types.StatsMessage) {
	select {
	case r.queue <- msg:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("stats queue full, dropping messages")
		}
	}
}

func (r *PipeReporter) drain(w io.Writer) {
	defer close(r.done)
	enc := json.NewEncoder(w)
	broken := false
	for msg := range r.queue {
		if broken {
			continue
		}
		if err := enc.Encode(msg); err != nil {
			// coordinator went away; keep consuming so Report never blocks
			r.logger.Warn("failed to write stats message, further messages are discarded", zap.Error(err))
			broken = true
		}
	}
}

// Close flushes queued messages and stops the writer goroutine.
func (r *PipeReporter) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *PipeReporter) Dropped() uint64 {
	return r.dropped.Load()
}

// ReadMessages decodes JSON-line messages written by a PipeReporter until r
// is exhausted. Malformed lines end the stream with an error.
func ReadMessages(r io.Reader, handle func(types.StatsMessage)) error {
	dec := json.NewDecoder(r)
	for {
		var msg types.StatsMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		handle(msg)
	}
}

package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/HsiangNianian/uiabridge/internal/protocol"
)

const (
	defaultRecorderBuffer = 1024
	appendTimeout         = 2 * time.Second
)

// Recorder feeds a Store from its own goroutine. Record never blocks: when the
// buffer is full the entry is dropped and counted.
type Recorder struct {
	log     logr.Logger
	store   Store
	entries chan Entry
	dropped atomic.Uint64
}

func NewRecorder(log logr.Logger, st Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	return &Recorder{
		log:     log,
		store:   st,
		entries: make(chan Entry, buffer),
	}
}

func (r *Recorder) Record(dir Direction, msg protocol.Message) {
	select {
	case r.entries <- Entry{Direction: dir, At: time.Now(), Message: msg}:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.log.Info("journal buffer full, dropping entries", "dropped", n)
		}
	}
}

func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) Store() Store {
	return r.store
}

// Run drains the buffer until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.entries:
			appendCtx, cancel := context.WithTimeout(ctx, appendTimeout)
			if err := r.store.Append(appendCtx, e); err != nil {
				r.log.V(1).Info("journal append failed", "error", err.Error(), "id", e.Message.ID)
			}
			cancel()
		}
	}
}

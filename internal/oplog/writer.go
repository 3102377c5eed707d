// Package oplog provides an async, buffered writer for the operation log:
// entries are enqueued by callers and flushed to the registry by a
// background goroutine so a slow store write never blocks a lifecycle
// operation's response.
package oplog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haloworks/fleetctl/pkg/registry"
)

const bufferSize = 256

// Writer is an async, buffered operation log writer. Entries are sent to an
// internal channel and flushed by a background goroutine.
type Writer struct {
	store   *registry.Store
	logger  *slog.Logger
	ttl     time.Duration
	entries chan registry.OperationLogEntry
	wg      sync.WaitGroup
}

// NewWriter creates an oplog Writer. Call Start to begin processing entries.
// ttl governs how long each entry is retained in the registry.
func NewWriter(store *registry.Store, logger *slog.Logger, ttl time.Duration) *Writer {
	return &Writer{
		store:   store,
		logger:  logger,
		ttl:     ttl,
		entries: make(chan registry.OperationLogEntry, bufferSize),
	}
}

// Start launches the background goroutine that flushes entries to the
// registry and returns immediately. The goroutine exits when ctx is
// cancelled, after flushing the entries still buffered, or when Close is
// called.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an operation log entry for async writing. It never blocks
// the caller; if the buffer is full the entry is dropped and a warning is
// logged, since a missed log line must never hold up a start/stop response.
func (w *Writer) Log(entry registry.OperationLogEntry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("operation log buffer full, dropping entry",
			"app", entry.App, "action", entry.Action, "source", entry.Source)
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				return
			}
			w.write(entry)
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

// drain flushes any entries still in the channel buffer after cancellation,
// without blocking for new ones.
func (w *Writer) drain() {
	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				return
			}
			w.write(entry)
		default:
			return
		}
	}
}

func (w *Writer) write(entry registry.OperationLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.store.PutOperationLog(ctx, entry, w.ttl); err != nil {
		w.logger.Error("writing operation log entry", "error", err,
			"app", entry.App, "action", entry.Action)
	}
}

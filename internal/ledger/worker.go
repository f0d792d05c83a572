package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Worker drains ledger events from a channel and appends them to the store,
// keeping the transfer critical path free of sink latency. Events are
// best-effort: a failed append is logged and dropped, never retried into the
// hot path.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "failed to append ledger event",
					"kind", event.Kind,
					"property_id", event.PropertyID,
					"error", err,
				)
			}
		}
	}
}

// ChannelEmitter feeds the worker. Emit never blocks; when the buffer is full
// the event is dropped and counted against the logger.
type ChannelEmitter struct {
	outbox chan<- Event
	logger *slog.Logger
}

func NewChannelEmitter(outbox chan<- Event, logger *slog.Logger) *ChannelEmitter {
	return &ChannelEmitter{outbox: outbox, logger: logger}
}

func (e *ChannelEmitter) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case e.outbox <- event:
		return nil
	default:
		e.logger.WarnContext(ctx, "ledger outbox full, dropping event",
			"kind", event.Kind,
			"property_id", event.PropertyID,
		)
		return nil
	}
}

package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is an append-only sink for ledger events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Publisher stamps and appends ledger events. Writes are best-effort from the
// caller's point of view: a transfer that already committed must not be
// rolled back because the ledger sink hiccuped, so callers log and continue
// on error.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.store.Append(ctx, event)
}

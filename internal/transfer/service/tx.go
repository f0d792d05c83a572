package service

import (
	"context"
	"sync"
)

// inMemoryStoreTx serializes transactional sections with a mutex. The
// in-memory stores have no shared transaction to join, so mutual exclusion is
// what makes the lock-validate-mutate sequence atomic.
type inMemoryStoreTx struct {
	mu sync.Mutex
}

func newInMemoryStoreTx() *inMemoryStoreTx {
	return &inMemoryStoreTx{}
}

func (t *inMemoryStoreTx) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}

// Package dispatcher implements the claim-next-pending algorithm described
// in the broker design: select the oldest pending task, transition it to
// processing, and hand it back — guaranteeing that no two concurrent
// callers ever receive the same task.
package dispatcher

import (
	"context"

	"github.com/kohaku-dig/image-broker/internal/broker"
	"github.com/kohaku-dig/image-broker/internal/task"
)

// Dispatcher claims work from a Store on behalf of HTTP handlers. It adds no
// state of its own — the Store's transaction is what actually provides the
// mutual-exclusion guarantee — but gives the claim operation a single,
// testable seam independent of the HTTP surface.
type Dispatcher struct {
	store broker.Store
}

// New creates a Dispatcher backed by store.
func New(store broker.Store) *Dispatcher {
	return &Dispatcher{store: store}
}

// ClaimNext returns the oldest pending task, transitioned to processing.
// Errors are broker.ErrNoWork (nothing pending) or broker.ErrContended (the
// claim lost a race and the caller should retry with backoff).
func (d *Dispatcher) ClaimNext(ctx context.Context) (task.Task, error) {
	return d.store.ClaimNext(ctx)
}

package broker

import (
	"context"

	"github.com/kohaku-dig/image-broker/internal/task"
)

// Store is the interface for persisting and retrieving tasks. A single
// implementation (internal/store/sqlite) backs production use; the
// interface exists so the HTTP surface and dispatcher depend only on this
// contract, not on any particular embedded engine.
type Store interface {
	// Submit inserts a new pending task, or — if id is non-empty and a row
	// with that id already exists — overwrites its prompt/extra_args,
	// clears any artifact reference, and returns it to pending. Returns
	// the task id (freshly generated if id was empty).
	Submit(ctx context.Context, id, prompt string, extraArgs task.ExtraArgs) (string, error)

	// ClaimNext selects the oldest pending task, transitions it to
	// processing, and returns it. Returns ErrNoWork if no pending task
	// exists, or ErrContended if the claim lost a race.
	ClaimNext(ctx context.Context) (task.Task, error)

	// MarkCompleted transitions a processing task to completed and
	// records its artifact reference. Returns ErrNotFound if no such task
	// exists, or ErrBadState if it is not currently processing.
	MarkCompleted(ctx context.Context, id, imagePath string) error

	// Reset returns a task to pending from any status and clears its
	// artifact reference. Returns ErrNotFound if no such task exists.
	// The caller receives the cleared image path (if any) so it can clean
	// up the corresponding sidecar file.
	Reset(ctx context.Context, id string) (clearedImagePath string, err error)

	// Fetch loads a task by id without mutating it. Returns ErrNotFound if
	// no such task exists.
	Fetch(ctx context.Context, id string) (task.Task, error)

	// CountPending returns the number of tasks currently pending. Used only
	// to feed the broker_tasks_pending gauge; never part of any invariant.
	CountPending(ctx context.Context) (int, error)

	// Close releases the store's underlying resources.
	Close() error
}

// Package task provides the domain model for the image-generation broker. A
// Task moves through a linear lifecycle:
//
//	pending → processing → completed,
//
// with reset and resubmit both returning a task to pending. The store is the
// authoritative source of truth for task state; HTTP handlers read and write
// exclusively through it.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// ExtraArgs is an arbitrary mapping from string to scalar, supplied by the
// requestor and passed through opaquely to workers. The reserved key
// "task_id" is never present here — it is extracted during submission to
// select the task's identity.
type ExtraArgs map[string]any

// ReservedTaskIDKey is the extra_args key that, if present on submission,
// selects the task's identity instead of generating a fresh one.
const ReservedTaskIDKey = "task_id"

// Task is a single unit of dispatched work.
type Task struct {
	ID        string    `json:"task_id"`
	Prompt    string    `json:"prompt"`
	ExtraArgs ExtraArgs `json:"extra_args"`
	Status    Status    `json:"status"`
	ImagePath string    `json:"-"`
	CreatedAt time.Time `json:"-"`
}

// NewID generates a fresh, globally-unique task identifier.
func NewID() string {
	return uuid.New().String()
}

// HasArtifact reports whether the task currently has a stored artifact.
func (t Task) HasArtifact() bool {
	return t.ImagePath != ""
}

// Package artifact persists the binary image produced by a worker and
// serves it back. Whatever format a worker uploads, the Sink decodes it and
// re-encodes to WebP before storing, so every artifact retrievable through
// the broker is in one canonical format.
package artifact

import "context"

// MediaType is the single canonical media type every stored artifact is
// re-encoded to.
const MediaType = "image/webp"

// Sink persists and retrieves artifact bytes keyed by task id.
type Sink interface {
	// Put decodes the image in content (any format recognised by the
	// standard image registry, plus BMP and WebP), re-encodes it to WebP,
	// and writes it durably. It returns an opaque reference that the
	// caller should persist on the task row.
	Put(ctx context.Context, taskID string, content []byte) (ref string, err error)

	// Get returns the stored WebP bytes for ref, or ErrNotFound if no
	// artifact exists at that reference.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Remove deletes the artifact at ref, if any. Removing a reference
	// that does not exist on disk is not an error.
	Remove(ctx context.Context, ref string) error
}

package artifact

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	_ "golang.org/x/image/bmp"

	apperrors "github.com/kohaku-dig/image-broker/internal/broker"
)

// DiskSink stores artifacts as "<task_id>.webp" files under a content
// directory. Writes go to a temporary file in the same directory and are
// renamed into place atomically, so a reader never observes a partially
// written file.
type DiskSink struct {
	dir string
}

// NewDiskSink creates a DiskSink rooted at dir, creating the directory if it
// does not already exist.
func NewDiskSink(dir string) (*DiskSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: failed to create content directory %q: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to resolve absolute path for %q: %w", dir, err)
	}
	return &DiskSink{dir: abs}, nil
}

func (s *DiskSink) pathFor(ref string) string {
	return filepath.Join(s.dir, filepath.FromSlash(ref))
}

func (s *DiskSink) Put(_ context.Context, taskID string, content []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("%w: failed to decode uploaded image: %v", apperrors.ErrBadRequest, err)
	}

	ref := taskID + ".webp"
	dest := s.pathFor(ref)

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+taskID+"-*")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temp file: %v", apperrors.ErrInternal, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if err := webp.Encode(tmp, img, &webp.Options{Lossless: false, Quality: 90}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: failed to encode webp: %v", apperrors.ErrInternal, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: failed to flush artifact: %v", apperrors.ErrInternal, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: failed to close artifact: %v", apperrors.ErrInternal, err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("%w: failed to finalise artifact: %v", apperrors.ErrInternal, err)
	}

	return ref, nil
}

func (s *DiskSink) Get(_ context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to read artifact: %v", apperrors.ErrInternal, err)
	}
	return data, nil
}

func (s *DiskSink) Remove(_ context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	if err := os.Remove(s.pathFor(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to remove artifact: %v", apperrors.ErrInternal, err)
	}
	return nil
}

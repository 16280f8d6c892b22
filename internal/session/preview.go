package session

import (
	"fmt"
	"os"

	"github.com/emmett/voxmsg/internal/audio"
)

// PreviewStore materialises a recording so it can be played back before
// sending. Release must tolerate unknown or already released paths.
type PreviewStore interface {
	Create(blob *audio.Blob) (string, error)
	Release(path string)
}

// TempPreviewStore writes previews to temporary files.
type TempPreviewStore struct {
	// Dir is the directory for preview files; empty uses os.TempDir.
	Dir string
}

func (s *TempPreviewStore) Create(blob *audio.Blob) (string, error) {
	f, err := os.CreateTemp(s.Dir, "voxmsg-preview-*."+blob.Extension())
	if err != nil {
		return "", fmt.Errorf("create preview: %w", err)
	}
	if _, err := f.Write(blob.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write preview: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close preview: %w", err)
	}
	return f.Name(), nil
}

func (s *TempPreviewStore) Release(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

package face

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pipatrol/patrol/internal/storage"
)

const enrollTimeLayout = "20060102150405"

// Enroll stages a JPEG for a person in the corpus. The model is not
// retrained; call Train to pick the new sample up. Returns the file name
// relative to the person's corpus directory.
func (id *Identifier) Enroll(name string, jpegData []byte) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrMissingName
	}
	safe := storage.SanitizeName(name)
	if safe == "" || safe == Unknown {
		return "", fmt.Errorf("%w: %q is not a usable person name", ErrInvalidName, name)
	}
	if len(jpegData) == 0 {
		return "", ErrInvalidImage
	}
	if _, err := storage.DecodeImage(jpegData); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	id.enrollMu.Lock()
	defer id.enrollMu.Unlock()

	dir := filepath.Join(id.config.CorpusDir, safe)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create corpus directory: %w", err)
	}

	path := storage.UniquePath(dir, safe+"_"+time.Now().Format(enrollTimeLayout), ".jpg")
	if err := storage.WriteFileAtomic(path, jpegData, 0644); err != nil {
		return "", fmt.Errorf("failed to write enrollment image: %w", err)
	}

	filename := filepath.Base(path)
	id.logger.Info("Face enrolled", "person", safe, "file", filename)
	return filename, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pipatrol/patrol/internal/logger"
	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is returned when a requested media file does not exist
var ErrNotFound = errors.New("media file not found")

// StorageService manages the media directories: event snapshots, clip
// recordings and the live frame files.
type StorageService struct {
	logger        *logger.Logger
	eventsDir     string
	recordingsDir string
	liveDir       string
	jpegQuality   int
	mu            sync.Mutex
	diskMonitor   *DiskMonitor
}

// StorageConfig contains storage service configuration
type StorageConfig struct {
	EventsDir           string
	RecordingsDir       string
	LiveDir             string
	MaxDiskUsagePercent float64
	JPEGQuality         int
}

// NewStorageService creates the media directories and the disk monitor
func NewStorageService(config StorageConfig, log *logger.Logger) (*StorageService, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	for _, dir := range []string{config.EventsDir, config.RecordingsDir, config.LiveDir} {
		if dir == "" {
			return nil, fmt.Errorf("storage directory is not configured")
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	maxDiskUsage := config.MaxDiskUsagePercent
	if maxDiskUsage == 0 {
		maxDiskUsage = 90.0
	}

	quality := config.JPEGQuality
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	diskMonitor, err := NewDiskMonitor(config.EventsDir, maxDiskUsage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create disk monitor: %w", err)
	}

	log.Info("Storage service initialized",
		"events_dir", config.EventsDir,
		"recordings_dir", config.RecordingsDir,
		"live_dir", config.LiveDir,
		"max_disk_usage_percent", maxDiskUsage,
	)

	return &StorageService{
		logger:        log,
		eventsDir:     config.EventsDir,
		recordingsDir: config.RecordingsDir,
		liveDir:       config.LiveDir,
		jpegQuality:   quality,
		diskMonitor:   diskMonitor,
	}, nil
}

// EventsDir returns the event snapshot directory
func (s *StorageService) EventsDir() string { return s.eventsDir }

// RecordingsDir returns the clip directory
func (s *StorageService) RecordingsDir() string { return s.recordingsDir }

// LiveDir returns the directory holding live.jpg and current.jpg
func (s *StorageService) LiveDir() string { return s.liveDir }

// GenerateClipPath returns the path for a clip started at t
func (s *StorageService) GenerateClipPath(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return UniquePath(s.recordingsDir, fmt.Sprintf("record_%d", t.Unix()), ".mp4")
}

// GenerateSnapshotPath returns the path for an event snapshot of person taken at t
func (s *StorageService) GenerateSnapshotPath(person string, t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	safe := SanitizeName(person)
	if safe == "" {
		safe = "Unknown"
	}
	return UniquePath(s.eventsDir, fmt.Sprintf("%s_%d", safe, t.Unix()), ".jpg")
}

// SaveEventSnapshot writes an encoded JPEG as the snapshot of an event and
// returns its path
func (s *StorageService) SaveEventSnapshot(ctx context.Context, data []byte, person string, t time.Time) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty snapshot")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := s.GenerateSnapshotPath(person, t)
	if err := WriteFileAtomic(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	s.logger.Debug("Event snapshot saved", "path", path, "size", len(data))
	return path, nil
}

// ResolveMedia maps a bare file name onto the events directory, then the
// recordings directory. Names containing path separators are rejected.
func (s *StorageService) ResolveMedia(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrNotFound
	}

	for _, dir := range []string{s.eventsDir, s.recordingsDir} {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}

	return "", ErrNotFound
}

// GetDiskUsage returns current disk usage statistics
func (s *StorageService) GetDiskUsage(ctx context.Context) (*DiskUsage, error) {
	return s.diskMonitor.GetUsage(ctx)
}

// CheckDiskSpace reports whether disk usage is below the configured maximum
func (s *StorageService) CheckDiskSpace(ctx context.Context) (bool, error) {
	return s.diskMonitor.CheckSpace(ctx)
}

// MaxDiskUsagePercent returns the configured disk usage limit
func (s *StorageService) MaxDiskUsagePercent() float64 {
	return s.diskMonitor.maxUsagePercent
}

// JPEGQuality returns the quality used for encoded snapshots
func (s *StorageService) JPEGQuality() int {
	return s.jpegQuality
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}

// SanitizeName reduces a person name to a single safe path segment.
// Letters of any script are kept in NFC form; separators and punctuation
// are dropped. The result is "" when nothing usable remains.
func SanitizeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsMark(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// UniquePath returns dir/base+ext, adding a numeric suffix while the file exists
func UniquePath(dir, base, ext string) string {
	path := filepath.Join(dir, base+ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
}

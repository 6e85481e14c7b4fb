package events

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/state"
	"github.com/pipatrol/patrol/internal/video"
)

func setupTestManager(t *testing.T) *state.Manager {
	t.Helper()
	mgr, err := state.Open(filepath.Join(t.TempDir(), "db", "patrol.db"), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

type dirPaths struct {
	dir string
	n   int
	mu  sync.Mutex
}

func (p *dirPaths) GenerateClipPath(t time.Time) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return filepath.Join(p.dir, fmt.Sprintf("record_%d_%d.mp4", t.Unix(), p.n))
}

type blankSource struct{}

func (blankSource) ReadFrame() (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 4, 4)), nil
}

// fakeClips writes an empty file after waiting for release or ctx
type fakeClips struct {
	release chan struct{}
	err     error
	mu      sync.Mutex
	calls   int
}

func newFakeClips() *fakeClips {
	return &fakeClips{release: make(chan struct{})}
}

func (f *fakeClips) Record(ctx context.Context, src video.FrameSource, outputPath string, duration time.Duration) (*video.ClipMetadata, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	select {
	case <-f.release:
	case <-ctx.Done():
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(outputPath, []byte("clip"), 0644); err != nil {
		return nil, err
	}
	return &video.ClipMetadata{FilePath: outputPath, Frames: 3}, nil
}

func (f *fakeClips) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

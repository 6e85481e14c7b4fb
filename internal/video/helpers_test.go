package video

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"sync"
	"testing"

	"github.com/pipatrol/patrol/internal/logger"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	t.Helper()
	ffmpeg, err := NewFFmpegWrapper(logger.NewNopLogger())
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

// solidSource returns frames of one color, optionally failing a number of reads first
type solidSource struct {
	mu       sync.Mutex
	width    int
	height   int
	failures int
	reads    int
}

func (s *solidSource) ReadFrame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("device busy")
	}
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	for i := range img.Pix {
		img.Pix[i] = uint8(s.reads * 10)
	}
	img.Set(0, 0, color.White)
	return img, nil
}

// memoryEncoder records frames in memory and touches the output file on close
type memoryEncoder struct {
	mu      sync.Mutex
	frames  int
	width   int
	height  int
	opened  int
	openErr error
}

func (e *memoryEncoder) Name() string { return "memory" }

func (e *memoryEncoder) Open(ctx context.Context, outputPath string, width, height, fps int) (ClipWriter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	e.opened++
	e.width, e.height = width, height
	return &memoryWriter{enc: e, path: outputPath}, nil
}

func (e *memoryEncoder) frameCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

type memoryWriter struct {
	enc  *memoryEncoder
	path string
}

func (w *memoryWriter) WriteFrame(img image.Image) error {
	w.enc.mu.Lock()
	defer w.enc.mu.Unlock()
	w.enc.frames++
	return nil
}

func (w *memoryWriter) Close() error {
	return os.WriteFile(w.path, []byte("clip"), 0644)
}

package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pipatrol/patrol/internal/logger"
)

// ErrAlreadyRecording is returned when a clip is requested while one is in progress
var ErrAlreadyRecording = errors.New("already recording")

// FrameSource supplies frames to a recording
type FrameSource interface {
	ReadFrame() (image.Image, error)
}

// ClipWriter receives the frames of one clip
type ClipWriter interface {
	WriteFrame(img image.Image) error
	Close() error
}

// Encoder opens clip files
type Encoder interface {
	Name() string
	Open(ctx context.Context, outputPath string, width, height, fps int) (ClipWriter, error)
}

// ClipRecorder records fixed-length clips by pulling frames from a
// FrameSource at a constant rate. Only one clip records at a time.
type ClipRecorder struct {
	logger  *logger.Logger
	encoder Encoder
	fps     int
	mu      sync.Mutex
	active  *Recording
}

// Recording represents the clip in progress
type Recording struct {
	OutputPath string
	StartTime  time.Time
	Duration   time.Duration
}

// ClipMetadata describes a finished clip
type ClipMetadata struct {
	FilePath  string
	Encoder   string
	Frames    int
	Width     int
	Height    int
	SizeBytes int64
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// ClipRecorderConfig contains recorder configuration
type ClipRecorderConfig struct {
	FPS int
}

// NewClipRecorder creates a clip recorder writing through encoder
func NewClipRecorder(encoder Encoder, config ClipRecorderConfig, log *logger.Logger) (*ClipRecorder, error) {
	if encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	fps := config.FPS
	if fps <= 0 {
		fps = 15
	}

	return &ClipRecorder{
		logger:  log,
		encoder: encoder,
		fps:     fps,
	}, nil
}

// IsRecording reports whether a clip is in progress
func (r *ClipRecorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Active returns the clip in progress, if any
func (r *ClipRecorder) Active() (Recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Recording{}, false
	}
	return *r.active, true
}

// Record captures duration worth of frames from src into outputPath and
// blocks until the clip is finalized. Cancelling ctx ends the clip early;
// frames written so far are kept.
func (r *ClipRecorder) Record(ctx context.Context, src FrameSource, outputPath string, duration time.Duration) (*ClipMetadata, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("invalid clip duration: %v", duration)
	}

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	recording := &Recording{
		OutputPath: outputPath,
		StartTime:  time.Now(),
		Duration:   duration,
	}
	r.active = recording
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active = nil
		r.mu.Unlock()
	}()

	r.logger.Info("Started recording",
		"output", outputPath,
		"duration", duration,
		"encoder", r.encoder.Name(),
	)

	first, err := r.readFrame(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to read first frame: %w", err)
	}
	bounds := first.Bounds()

	// The encoder process outlives a cancelled ctx so that an early stop
	// still produces a playable file.
	writer, err := r.encoder.Open(context.WithoutCancel(ctx), outputPath, bounds.Dx(), bounds.Dy(), r.fps)
	if err != nil {
		return nil, fmt.Errorf("failed to open encoder: %w", err)
	}

	frames, loopErr := r.writeFrames(ctx, src, writer, first, duration)
	closeErr := writer.Close()

	if loopErr != nil {
		os.Remove(outputPath)
		return nil, loopErr
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to finalize clip: %w", closeErr)
	}

	metadata := &ClipMetadata{
		FilePath:  outputPath,
		Encoder:   r.encoder.Name(),
		Frames:    frames,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		StartTime: recording.StartTime,
		EndTime:   time.Now(),
	}
	metadata.Duration = metadata.EndTime.Sub(metadata.StartTime)
	if info, err := os.Stat(outputPath); err == nil {
		metadata.SizeBytes = info.Size()
	}

	r.logger.Info("Recording completed",
		"output", outputPath,
		"frames", frames,
		"duration", metadata.Duration,
	)

	return metadata, nil
}

func (r *ClipRecorder) writeFrames(ctx context.Context, src FrameSource, writer ClipWriter, first image.Image, duration time.Duration) (int, error) {
	if err := writer.WriteFrame(first); err != nil {
		return 0, fmt.Errorf("failed to write frame: %w", err)
	}
	frames := 1
	total := int(duration.Seconds() * float64(r.fps))

	ticker := time.NewTicker(time.Second / time.Duration(r.fps))
	defer ticker.Stop()
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	for frames < total {
		select {
		case <-ctx.Done():
			r.logger.Debug("Recording cut short", "frames", frames)
			return frames, nil
		case <-deadline.C:
			return frames, nil
		case <-ticker.C:
		}

		img, err := r.readFrame(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return frames, nil
			}
			return frames, fmt.Errorf("failed to read frame: %w", err)
		}
		if err := writer.WriteFrame(img); err != nil {
			return frames, fmt.Errorf("failed to write frame: %w", err)
		}
		frames++
	}

	return frames, nil
}

// readFrame retries transient read failures a few times before giving up
func (r *ClipRecorder) readFrame(ctx context.Context, src FrameSource) (image.Image, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	var img image.Image
	operation := func() error {
		frame, err := src.ReadFrame()
		if err != nil {
			return err
		}
		if frame == nil {
			return fmt.Errorf("empty frame")
		}
		img = frame
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)); err != nil {
		return nil, err
	}
	return img, nil
}

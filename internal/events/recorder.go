package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/service"
	"github.com/pipatrol/patrol/internal/video"
)

var (
	// ErrPersistence wraps failures to write an event row
	ErrPersistence = errors.New("event persistence failed")
	// ErrRecorderBusy is returned when a clip is requested while another is recording
	ErrRecorderBusy = errors.New("clip recorder busy")
	// ErrDiskFull is returned when the media disk is over its usage limit
	ErrDiskFull = errors.New("media disk full")
)

// ClipPaths allocates output paths for clips
type ClipPaths interface {
	GenerateClipPath(t time.Time) string
}

// SpaceChecker is implemented by ClipPaths that can report free space
type SpaceChecker interface {
	CheckDiskSpace(ctx context.Context) (bool, error)
}

// ClipRecorder records one clip at a time from a frame source
type ClipRecorder interface {
	Record(ctx context.Context, src video.FrameSource, outputPath string, duration time.Duration) (*video.ClipMetadata, error)
}

// persistTimeout bounds the write of a motion_recorded row after shutdown began
const persistTimeout = 5 * time.Second

// Recorder persists events and supervises clip recordings
type Recorder struct {
	*service.ServiceBase
	storage *Storage
	paths   ClipPaths
	clips   ClipRecorder
	source  video.FrameSource

	mu       sync.Mutex
	inflight *ClipHandle
	wg       sync.WaitGroup
}

// NewRecorder creates an event recorder. clips and source may be nil, in
// which case clip requests fail with an error.
func NewRecorder(storage *Storage, paths ClipPaths, clips ClipRecorder, source video.FrameSource, log *logger.Logger) *Recorder {
	return &Recorder{
		ServiceBase: service.NewServiceBase("event-recorder", log),
		storage:     storage,
		paths:       paths,
		clips:       clips,
		source:      source,
	}
}

// Start implements service.Service
func (r *Recorder) Start(ctx context.Context) error {
	r.LogInfo("Event recorder ready")
	return nil
}

// Stop waits for an in-flight clip to finish
func (r *Recorder) Stop(ctx context.Context) error {
	if err := r.Wait(ctx); err != nil {
		return fmt.Errorf("clip still recording at shutdown: %w", err)
	}
	r.LogInfo("Event recorder stopped")
	return nil
}

// Record appends an event row stamped with the current time. Failures are
// logged here and returned wrapped in ErrPersistence; callers are expected
// to carry on.
func (r *Recorder) Record(ctx context.Context, eventType, filePath, personName string) (int64, error) {
	event := NewEvent(eventType, filePath, personName)

	id, err := r.storage.SaveEvent(ctx, event)
	if err != nil {
		r.LogError("Failed to record event", err,
			"event_type", eventType,
			"file_path", filePath,
		)
		return 0, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	r.LogInfo("Event recorded",
		"event_id", id,
		"event_type", eventType,
		"person", personName,
		"file_path", filePath,
	)
	r.PublishEvent(service.EventTypeEventRecorded, event.Data())

	return id, nil
}

// ClipHandle tracks one supervised clip recording
type ClipHandle struct {
	ID        string
	Path      string
	StartedAt time.Time
	Duration  time.Duration

	done     chan struct{}
	err      error
	metadata *video.ClipMetadata
	eventID  int64
}

// Done is closed when the recording and its event row are finished
func (h *ClipHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the recording error. Only valid after Done is closed.
func (h *ClipHandle) Err() error {
	<-h.done
	return h.err
}

// Metadata returns the finished clip's metadata, nil on failure
func (h *ClipHandle) Metadata() *video.ClipMetadata {
	<-h.done
	return h.metadata
}

// EventID returns the id of the motion_recorded row, 0 if none was written
func (h *ClipHandle) EventID() int64 {
	<-h.done
	return h.eventID
}

// Busy reports whether a clip is recording
func (r *Recorder) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight != nil
}

// Inflight returns the handle of the clip being recorded, if any
func (r *Recorder) Inflight() *ClipHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight
}

// RecordClipAsync starts recording a clip of the given duration in the
// background and returns immediately. When the clip is finalized a
// motion_recorded event referencing it is written. Only one clip records at
// a time; overlapping requests get ErrRecorderBusy. Cancelling ctx ends the
// clip early.
func (r *Recorder) RecordClipAsync(ctx context.Context, duration time.Duration) (*ClipHandle, error) {
	if r.clips == nil || r.source == nil || r.paths == nil {
		return nil, fmt.Errorf("clip recording is not configured")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("invalid clip duration: %v", duration)
	}
	if checker, ok := r.paths.(SpaceChecker); ok {
		hasSpace, err := checker.CheckDiskSpace(ctx)
		if err != nil {
			r.LogWarn("Disk space check failed, recording anyway", "error", err)
		} else if !hasSpace {
			return nil, ErrDiskFull
		}
	}

	r.mu.Lock()
	if r.inflight != nil {
		r.mu.Unlock()
		return nil, ErrRecorderBusy
	}
	now := time.Now()
	handle := &ClipHandle{
		ID:        uuid.New().String(),
		Path:      r.paths.GenerateClipPath(now),
		StartedAt: now,
		Duration:  duration,
		done:      make(chan struct{}),
	}
	r.inflight = handle
	r.wg.Add(1)
	r.mu.Unlock()

	r.PublishEvent(service.EventTypeClipStarted, map[string]interface{}{
		"clip_id":  handle.ID,
		"path":     handle.Path,
		"duration": duration.Seconds(),
	})

	go r.runClip(ctx, handle)

	return handle, nil
}

func (r *Recorder) runClip(ctx context.Context, handle *ClipHandle) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		r.inflight = nil
		r.mu.Unlock()
		close(handle.done)
	}()

	metadata, err := r.clips.Record(ctx, r.source, handle.Path, handle.Duration)
	if err != nil {
		if errors.Is(err, video.ErrAlreadyRecording) {
			err = ErrRecorderBusy
		}
		handle.err = err
		r.LogError("Clip recording failed", err, "clip_id", handle.ID, "path", handle.Path)
		r.PublishEvent(service.EventTypeClipFinished, map[string]interface{}{
			"clip_id": handle.ID,
			"error":   err.Error(),
		})
		return
	}
	handle.metadata = metadata

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	id, err := r.Record(persistCtx, EventTypeMotionRecorded, handle.Path, "")
	if err != nil {
		handle.err = err
	}
	handle.eventID = id

	r.PublishEvent(service.EventTypeClipFinished, map[string]interface{}{
		"clip_id":  handle.ID,
		"path":     handle.Path,
		"frames":   metadata.Frames,
		"event_id": id,
	})
}

// Wait blocks until no clip is recording or ctx is done
func (r *Recorder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

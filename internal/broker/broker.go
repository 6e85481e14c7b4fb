// Package broker holds the most recent annotated frame and the state shared
// between the capture path and the web server.
package broker

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/storage"
)

// Snapshot is a copy of the latest published frame
type Snapshot struct {
	JPEG      []byte
	Image     image.Image // annotated
	Raw       image.Image // as captured, used for enrollment
	Label     string
	Timestamp time.Time
	Seq       uint64
}

// Status is the summary served by the status endpoint
type Status struct {
	CurrentLabel  string    `json:"current_label"`
	LivePreview   bool      `json:"live_preview"`
	LastFrameTime time.Time `json:"last_frame_time"`
	Seq           uint64    `json:"seq"`
}

// Config contains broker settings
type Config struct {
	LivePath    string // written on every publish, empty disables
	JPEGQuality int
	Preview     bool
}

// Broker is a single-slot store for the latest frame. Readers get copies
// and never observe a partially updated frame.
type Broker struct {
	logger      *logger.Logger
	livePath    string
	jpegQuality int

	preview atomic.Bool

	mu        sync.RWMutex
	frame     image.Image
	raw       image.Image
	jpeg      []byte
	label     string
	timestamp time.Time
	seq       uint64
	updated   chan struct{}

	// serializes live file writes; writtenSeq is the frame on disk
	writeMu    sync.Mutex
	writtenSeq uint64
}

// New creates an empty broker
func New(cfg Config, log *logger.Logger) *Broker {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = storage.DefaultJPEGQuality
	}

	b := &Broker{
		logger:      log,
		livePath:    cfg.LivePath,
		jpegQuality: cfg.JPEGQuality,
		updated:     make(chan struct{}),
	}
	b.preview.Store(cfg.Preview)
	return b
}

// Publish replaces the current frame with one that has no separate raw copy
func (b *Broker) Publish(frame image.Image, label string) error {
	return b.PublishFrame(frame, frame, label)
}

// PublishFrame replaces the current frame. The annotated frame is encoded
// before the lock is taken so readers are only blocked for the swap.
func (b *Broker) PublishFrame(frame, raw image.Image, label string) error {
	if frame == nil {
		return fmt.Errorf("nil frame")
	}
	if raw == nil {
		raw = frame
	}

	data, err := storage.EncodeJPEG(frame, b.jpegQuality)
	if err != nil {
		return err
	}
	now := time.Now()

	b.mu.Lock()
	b.frame = frame
	b.raw = raw
	b.jpeg = data
	b.label = label
	b.timestamp = now
	b.seq++
	seq := b.seq
	close(b.updated)
	b.updated = make(chan struct{})
	b.mu.Unlock()

	if err := b.writeLive(seq, data); err != nil {
		b.logger.Warn("Failed to write live frame", "path", b.livePath, "error", err)
		return fmt.Errorf("failed to write live frame: %w", err)
	}

	b.logger.Debug("Frame published", "seq", seq, "label", label, "bytes", len(data))
	return nil
}

// writeLive stores frame seq in the live file unless a newer frame got
// there first, so concurrent publishers leave the latest frame on disk.
func (b *Broker) writeLive(seq uint64, data []byte) error {
	if b.livePath == "" {
		return nil
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if seq <= b.writtenSeq {
		return nil
	}
	if err := storage.WriteFileAtomic(b.livePath, data, 0644); err != nil {
		return err
	}
	b.writtenSeq = seq
	return nil
}

// Snapshot returns the latest frame, false if nothing was published yet
func (b *Broker) Snapshot() (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.jpeg == nil {
		return Snapshot{}, false
	}

	data := make([]byte, len(b.jpeg))
	copy(data, b.jpeg)

	return Snapshot{
		JPEG:      data,
		Image:     b.frame,
		Raw:       b.raw,
		Label:     b.label,
		Timestamp: b.timestamp,
		Seq:       b.seq,
	}, true
}

// Updated returns a channel closed on the next Publish
func (b *Broker) Updated() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// Seq returns the sequence number of the latest frame, 0 before the first
func (b *Broker) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Label returns the label of the latest frame
func (b *Broker) Label() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.label
}

// SetPreview toggles live preview
func (b *Broker) SetPreview(enabled bool) {
	if b.preview.Swap(enabled) != enabled {
		b.logger.Info("Live preview toggled", "enabled", enabled)
	}
}

// PreviewEnabled reports whether live preview is on
func (b *Broker) PreviewEnabled() bool {
	return b.preview.Load()
}

// Status returns the current label, preview flag and frame time
func (b *Broker) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Status{
		CurrentLabel:  b.label,
		LivePreview:   b.preview.Load(),
		LastFrameTime: b.timestamp,
		Seq:           b.seq,
	}
}

// LivePath returns the path of the live JPEG file
func (b *Broker) LivePath() string {
	return b.livePath
}

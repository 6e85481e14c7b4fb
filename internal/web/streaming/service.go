// Package streaming writes the broker's latest frame as an MJPEG stream.
package streaming

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/pipatrol/patrol/internal/broker"
	"github.com/pipatrol/patrol/internal/logger"
)

// Boundary separates parts of the multipart response
const Boundary = "frame"

// ContentType is the response content type for MJPEG streams
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// idlePoll is how often a stream rechecks the preview flag while it is off
const idlePoll = 200 * time.Millisecond

// FrameSource is the part of the broker a stream reads
type FrameSource interface {
	Snapshot() (broker.Snapshot, bool)
	Updated() <-chan struct{}
	PreviewEnabled() bool
}

// Service serves MJPEG streams to any number of clients
type Service struct {
	logger   *logger.Logger
	source   FrameSource
	interval time.Duration
	clients  atomic.Int32
}

// NewService creates a streaming service capped at fps frames per second
func NewService(source FrameSource, fps int, log *logger.Logger) *Service {
	if fps <= 0 {
		fps = 15
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Service{
		logger:   log,
		source:   source,
		interval: time.Second / time.Duration(fps),
	}
}

// Clients returns the number of open streams
func (s *Service) Clients() int {
	return int(s.clients.Load())
}

// Serve writes frames to w until ctx is done or a write fails. While
// preview is off nothing is written. A frame is only sent once, and never
// sooner than the frame interval after the previous one. flush may be nil.
func (s *Service) Serve(ctx context.Context, w io.Writer, flush func()) error {
	n := s.clients.Add(1)
	defer s.clients.Add(-1)
	s.logger.Debug("MJPEG client connected", "clients", n)

	var lastSeq uint64
	var lastSent time.Time

	for {
		if ctx.Err() != nil {
			return nil
		}

		if !s.source.PreviewEnabled() {
			if !sleep(ctx, idlePoll) {
				return nil
			}
			continue
		}

		if wait := s.interval - time.Since(lastSent); wait > 0 {
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}

		updated := s.source.Updated()
		snap, ok := s.source.Snapshot()
		if ok && snap.Seq != lastSeq {
			if err := WritePart(w, snap.JPEG); err != nil {
				s.logger.Debug("MJPEG client gone", "error", err)
				return err
			}
			if flush != nil {
				flush()
			}
			lastSeq = snap.Seq
			lastSent = time.Now()
			continue
		}

		// wake on the next frame, or periodically to notice a preview toggle
		select {
		case <-ctx.Done():
			return nil
		case <-updated:
		case <-time.After(idlePoll):
		}
	}
}

// WritePart writes one JPEG as a multipart section
func WritePart(w io.Writer, jpeg []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(jpeg))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

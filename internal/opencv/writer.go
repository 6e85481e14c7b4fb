package opencv

import (
	"context"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"github.com/pipatrol/patrol/internal/video"
)

// VideoWriterEncoder writes clips with OpenCV's VideoWriter. It is the
// fallback when ffmpeg is not installed.
type VideoWriterEncoder struct {
	codec string
}

// NewVideoWriterEncoder creates an encoder using the given FourCC, mp4v by default
func NewVideoWriterEncoder(codec string) *VideoWriterEncoder {
	if codec == "" {
		codec = "mp4v"
	}
	return &VideoWriterEncoder{codec: codec}
}

// Name implements video.Encoder
func (e *VideoWriterEncoder) Name() string {
	return "opencv-" + e.codec
}

// Open implements video.Encoder
func (e *VideoWriterEncoder) Open(ctx context.Context, outputPath string, width, height, fps int) (video.ClipWriter, error) {
	w, err := gocv.VideoWriterFile(outputPath, e.codec, float64(fps), width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer: %w", err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("video writer for %s did not open", outputPath)
	}
	return &matWriter{writer: w, path: outputPath, size: image.Pt(width, height)}, nil
}

type matWriter struct {
	writer *gocv.VideoWriter
	path   string
	size   image.Point
	frames int
}

func (w *matWriter) WriteFrame(img image.Image) error {
	m, err := ToMat(img)
	if err != nil {
		return err
	}
	defer m.Close()

	// VideoWriter silently drops frames whose size differs from the header
	if m.Cols() != w.size.X || m.Rows() != w.size.Y {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(m, &resized, w.size, 0, 0, gocv.InterpolationLinear)
		return w.write(resized)
	}
	return w.write(m)
}

func (w *matWriter) write(m gocv.Mat) error {
	if err := w.writer.Write(m); err != nil {
		return err
	}
	w.frames++
	return nil
}

func (w *matWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		return err
	}
	if w.frames == 0 {
		os.Remove(w.path)
		return fmt.Errorf("no frames written to %s", w.path)
	}
	return nil
}

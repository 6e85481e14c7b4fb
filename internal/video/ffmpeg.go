package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/storage"
)

// FFmpegWrapper wraps the ffmpeg binary used to encode clips
type FFmpegWrapper struct {
	logger          *logger.Logger
	ffmpegPath      string
	hardwareAccel   HardwareAcceleration
	availableCodecs map[string]bool
	mu              sync.RWMutex
}

// HardwareAcceleration represents available H.264 hardware encoders
type HardwareAcceleration struct {
	V4L2M2M  bool // Raspberry Pi stateful encoder (h264_v4l2m2m)
	OMX      bool // legacy Raspberry Pi OpenMAX encoder (h264_omx)
	Software bool // libx264, always assumed
}

// NewFFmpegWrapper locates ffmpeg and probes its encoders
func NewFFmpegWrapper(log *logger.Logger) (*FFmpegWrapper, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	wrapper := &FFmpegWrapper{
		logger:          log,
		ffmpegPath:      "ffmpeg",
		availableCodecs: make(map[string]bool),
	}

	ffmpegPath, err := wrapper.detectFFmpeg()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.ffmpegPath = ffmpegPath

	codecs, err := wrapper.detectEncoders()
	if err != nil {
		log.Warn("Failed to detect encoders, using software fallback", "error", err)
	} else {
		wrapper.availableCodecs = codecs
	}

	wrapper.hardwareAccel = HardwareAcceleration{
		V4L2M2M:  codecs["h264_v4l2m2m"],
		OMX:      codecs["h264_omx"],
		Software: true,
	}

	log.Info("FFmpeg wrapper initialized",
		"path", wrapper.ffmpegPath,
		"v4l2m2m", wrapper.hardwareAccel.V4L2M2M,
		"omx", wrapper.hardwareAccel.OMX,
	)

	return wrapper, nil
}

func (f *FFmpegWrapper) detectFFmpeg() (string, error) {
	paths := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}

	for _, path := range paths {
		cmd := exec.Command(path, "-version")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}

func (f *FFmpegWrapper) detectEncoders() (map[string]bool, error) {
	output, err := exec.Command(f.ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get encoders: %w", err)
	}
	return parseEncoderList(string(output)), nil
}

// parseEncoderList extracts video encoder names from `ffmpeg -encoders` output
func parseEncoderList(output string) map[string]bool {
	codecs := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 2 || len(parts[0]) != 6 || parts[0][0] != 'V' || parts[1] == "=" {
			continue
		}
		codecs[parts[1]] = true
	}
	return codecs
}

// GetHardwareAcceleration returns available hardware acceleration
func (f *FFmpegWrapper) GetHardwareAcceleration() HardwareAcceleration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hardwareAccel
}

// IsCodecAvailable checks if an encoder is available
func (f *FFmpegWrapper) IsCodecAvailable(codec string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.availableCodecs[codec]
}

// GetPreferredEncoder returns the H.264 encoder to use for clips
func (f *FFmpegWrapper) GetPreferredEncoder() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	switch {
	case f.hardwareAccel.V4L2M2M:
		return "h264_v4l2m2m"
	case f.hardwareAccel.OMX:
		return "h264_omx"
	default:
		return "libx264"
	}
}

// BuildCommand builds an ffmpeg command
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// GetVersion returns the first line of `ffmpeg -version`
func (f *FFmpegWrapper) GetVersion() (string, error) {
	output, err := exec.Command(f.ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}

	return "unknown", nil
}

// Name implements Encoder
func (f *FFmpegWrapper) Name() string {
	return "ffmpeg"
}

// Open implements Encoder. Frames are piped to ffmpeg as JPEG images.
func (f *FFmpegWrapper) Open(ctx context.Context, outputPath string, width, height, fps int) (ClipWriter, error) {
	encoder := f.GetPreferredEncoder()
	args := buildRecordingArgs(outputPath, encoder, fps)

	cmd := f.BuildCommand(ctx, args)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	f.logger.Debug("ffmpeg started",
		"output", outputPath,
		"encoder", encoder,
		"width", width,
		"height", height,
		"fps", fps,
	)

	return &ffmpegWriter{cmd: cmd, stdin: stdin, stderr: &stderr, path: outputPath}, nil
}

// buildRecordingArgs builds ffmpeg arguments for encoding a JPEG stream read from stdin
func buildRecordingArgs(outputPath, encoder string, fps int) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "image2pipe",
		"-framerate", fmt.Sprintf("%d", fps),
		"-c:v", "mjpeg",
		"-i", "-",
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", encoder,
		"-pix_fmt", "yuv420p",
	}

	if encoder == "libx264" {
		args = append(args, "-preset", "veryfast", "-crf", "23")
	} else {
		args = append(args, "-b:v", "2M")
	}

	return append(args,
		"-movflags", "+faststart",
		"-f", "mp4",
		"-y",
		outputPath,
	)
}

type ffmpegWriter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	path   string
	closed bool
}

func (w *ffmpegWriter) WriteFrame(img image.Image) error {
	data, err := storage.EncodeJPEG(img, 90)
	if err != nil {
		return err
	}
	if _, err := w.stdin.Write(data); err != nil {
		return fmt.Errorf("ffmpeg write failed: %w (%s)", err, strings.TrimSpace(w.stderr.String()))
	}
	return nil
}

func (w *ffmpegWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		os.Remove(w.path)
		return fmt.Errorf("ffmpeg failed: %w (%s)", err, strings.TrimSpace(w.stderr.String()))
	}
	return nil
}

package opencv

import (
	"errors"
	"fmt"

	"github.com/pipatrol/patrol/internal/camera"
	"github.com/pipatrol/patrol/internal/config"
	"github.com/pipatrol/patrol/internal/face"
	"github.com/pipatrol/patrol/internal/logger"
)

// NewIdentifier builds a face identifier backed by the Haar cascade and
// LBPH. A missing cascade file is a configuration error. The model is not
// loaded; call Load.
func NewIdentifier(cfg config.FaceConfig, log *logger.Logger) (*face.Identifier, error) {
	pre := PreprocessConfig{
		FaceSize:  cfg.FaceSize,
		CLAHEClip: cfg.CLAHEClip,
		CLAHETile: cfg.CLAHETile,
	}

	detector, err := NewCascadeDetector(CascadeConfig{
		Path:         cfg.CascadePath,
		ScaleFactor:  cfg.ScaleFactor,
		MinNeighbors: cfg.MinNeighbors,
		MinSize:      cfg.MinSize,
		Preprocess:   pre,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load face cascade: %w", err)
	}

	factory := NewLBPHFactory(LBPHConfig{
		Radius:     cfg.LBPHRadius,
		Neighbors:  cfg.LBPHNeighbors,
		Grid:       cfg.LBPHGrid,
		Preprocess: pre,
	})

	id, err := face.NewIdentifier(face.Config{
		CorpusDir:  cfg.CorpusDir,
		ModelPath:  cfg.ModelPath,
		LabelsPath: cfg.LabelsPath,
		Threshold:  cfg.Threshold,
	}, detector, factory, log)
	if err != nil {
		detector.Close()
		return nil, err
	}
	return id, nil
}

// NewDevice picks the camera for cfg. Hardware mode with no device present
// falls back to simulated frames; fallback reports whether that happened.
func NewDevice(cfg config.CameraConfig, devDir string) (dev camera.Device, fallback bool, err error) {
	if cfg.Mode == config.ModeSimulated {
		return camera.NewSimulatedDevice(cfg.Width, cfg.Height), false, nil
	}

	path, err := camera.ResolveDevice(cfg.Device, devDir)
	if errors.Is(err, camera.ErrHardwareUnavailable) {
		return camera.NewSimulatedDevice(cfg.Width, cfg.Height), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve camera device: %w", err)
	}

	return NewVideoDevice(CaptureConfig{
		Device:   path,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Exposure: cfg.Exposure,
		Gain:     cfg.Gain,
	}), false, nil
}

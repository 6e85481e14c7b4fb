package main

import (
	"context"

	"github.com/pipatrol/patrol/internal/camera"
	"github.com/pipatrol/patrol/internal/config"
	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/opencv"
	"github.com/pipatrol/patrol/internal/sensor"
	"github.com/pipatrol/patrol/internal/video"
)

// buildDevice opens nothing yet; the engine opens the device on motion
func buildDevice(cfg *config.Config, log *logger.Logger) (camera.Device, error) {
	dev, fallback, err := opencv.NewDevice(cfg.Camera, "/dev")
	if err != nil {
		return nil, err
	}
	if fallback {
		log.Warn("No camera found, using simulated frames", "device", cfg.Camera.Device)
	}
	log.Info("Using camera", "device", dev.Name())
	return dev, nil
}

// buildSensor opens the PIR pin, or simulates motion when the hardware is
// missing or simulation is configured
func buildSensor(cfg *config.Config, log *logger.Logger) sensor.Sensor {
	if cfg.Sensor.Mode != config.ModeSimulated {
		pir, err := sensor.NewGPIO(cfg.Sensor.Pin)
		if err == nil {
			log.Info("PIR sensor ready", "pin", cfg.Sensor.Pin)
			return pir
		}
		log.Warn("PIR sensor unavailable, simulating motion",
			"pin", cfg.Sensor.Pin,
			"probability", cfg.Sensor.SimulatedProbability,
			"error", err,
		)
	}
	return sensor.NewSimulated(cfg.Sensor.SimulatedProbability, 0)
}

// buildEncoder prefers ffmpeg and falls back to OpenCV's writer
func buildEncoder(cfg *config.Config, log *logger.Logger) video.Encoder {
	if cfg.Recording.Encoder == config.EncoderOpenCV {
		return opencv.NewVideoWriterEncoder("")
	}

	ffmpeg, err := video.NewFFmpegWrapper(log)
	if err != nil {
		log.Warn("ffmpeg not available, recording with OpenCV", "error", err)
		return opencv.NewVideoWriterEncoder("")
	}
	return ffmpeg
}

// restartNotice reports reloaded settings that only apply after a restart
func restartNotice(log *logger.Logger) config.ConfigWatcher {
	return func(ctx context.Context, oldCfg, newCfg *config.Config) error {
		changed := map[string]bool{
			"camera":    oldCfg.Camera != newCfg.Camera,
			"sensor":    oldCfg.Sensor != newCfg.Sensor,
			"face":      oldCfg.Face != newCfg.Face,
			"storage":   oldCfg.Storage != newCfg.Storage,
			"recording": oldCfg.Recording != newCfg.Recording,
			"web":       oldCfg.Web != newCfg.Web,
			"motion":    !sameMotion(oldCfg.Motion, newCfg.Motion),
		}
		for section, differs := range changed {
			if differs {
				log.Warn("Configuration section changed, restart to apply", "section", section)
			}
		}
		return nil
	}
}

func sameMotion(a, b config.MotionConfig) bool {
	return a.IdleTimeout == b.IdleTimeout &&
		a.ClipDuration == b.ClipDuration &&
		a.CooldownEnabled() == b.CooldownEnabled()
}

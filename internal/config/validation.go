package config

import (
	"fmt"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string

	if c.Patrol.DataDir == "" {
		errors = append(errors, "patrol.data_dir is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	// Camera
	if !validMode(c.Camera.Mode) {
		errors = append(errors, fmt.Sprintf("invalid camera.mode: %s (must be: %s or %s)", c.Camera.Mode, ModeHardware, ModeSimulated))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errors = append(errors, fmt.Sprintf("camera resolution must be positive, got: %dx%d", c.Camera.Width, c.Camera.Height))
	}
	if c.Camera.OpenRetries < 0 {
		errors = append(errors, fmt.Sprintf("camera.open_retries must be >= 0, got: %d", c.Camera.OpenRetries))
	}

	// Sensor
	if !validMode(c.Sensor.Mode) {
		errors = append(errors, fmt.Sprintf("invalid sensor.mode: %s (must be: %s or %s)", c.Sensor.Mode, ModeHardware, ModeSimulated))
	}
	if c.Sensor.Mode == ModeHardware && c.Sensor.Pin == "" {
		errors = append(errors, "sensor.pin is required in hardware mode")
	}
	if c.Sensor.PollInterval <= 0 {
		errors = append(errors, fmt.Sprintf("sensor.poll_interval must be > 0, got: %v", c.Sensor.PollInterval))
	}
	if c.Sensor.SimulatedProbability < 0 || c.Sensor.SimulatedProbability > 1 {
		errors = append(errors, fmt.Sprintf("sensor.simulated_probability must be between 0 and 1, got: %.2f", c.Sensor.SimulatedProbability))
	}

	// Motion
	if c.Motion.IdleTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("motion.idle_timeout must be > 0, got: %v", c.Motion.IdleTimeout))
	}
	if c.Motion.ClipDuration <= 0 {
		errors = append(errors, fmt.Sprintf("motion.clip_duration must be > 0, got: %v", c.Motion.ClipDuration))
	}

	// Face
	if c.Face.CorpusDir == "" {
		errors = append(errors, "face.corpus_dir is required")
	}
	if c.Face.ModelPath == "" {
		errors = append(errors, "face.model_path is required")
	}
	if c.Face.Threshold <= 0 {
		errors = append(errors, fmt.Sprintf("face.threshold must be > 0, got: %.2f", c.Face.Threshold))
	}
	if c.Face.FaceSize <= 0 {
		errors = append(errors, fmt.Sprintf("face.face_size must be > 0, got: %d", c.Face.FaceSize))
	}
	if c.Face.ScaleFactor <= 1 {
		errors = append(errors, fmt.Sprintf("face.scale_factor must be > 1, got: %.2f", c.Face.ScaleFactor))
	}
	if c.Face.LBPHGrid <= 0 {
		errors = append(errors, fmt.Sprintf("face.lbph_grid must be > 0, got: %d", c.Face.LBPHGrid))
	}
	if c.Face.MinNeighbors < 0 {
		errors = append(errors, fmt.Sprintf("face.min_neighbors must be >= 0, got: %d", c.Face.MinNeighbors))
	}

	// Storage
	if c.Storage.MaxDiskUsagePercent < 0 || c.Storage.MaxDiskUsagePercent > 100 {
		errors = append(errors, fmt.Sprintf("storage.max_disk_usage_percent must be between 0 and 100, got: %.2f", c.Storage.MaxDiskUsagePercent))
	}

	// Recording
	if c.Recording.Encoder != EncoderFFmpeg && c.Recording.Encoder != EncoderOpenCV {
		errors = append(errors, fmt.Sprintf("invalid recording.encoder: %s (must be: %s or %s)", c.Recording.Encoder, EncoderFFmpeg, EncoderOpenCV))
	}
	if c.Recording.FPS <= 0 {
		errors = append(errors, fmt.Sprintf("recording.fps must be > 0, got: %d", c.Recording.FPS))
	}

	// Web
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", c.Web.Port))
	}
	if c.Web.StreamFPS <= 0 {
		errors = append(errors, fmt.Sprintf("web.stream_fps must be > 0, got: %d", c.Web.StreamFPS))
	}
	if c.Web.JPEGQuality < 1 || c.Web.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("web.jpeg_quality must be between 1 and 100, got: %d", c.Web.JPEGQuality))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func validMode(mode string) bool {
	return mode == ModeHardware || mode == ModeSimulated
}

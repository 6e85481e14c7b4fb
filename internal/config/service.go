package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pipatrol/patrol/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService loads, overrides and validates the configuration
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := LoadValidated(configPath)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// LoadValidated loads the file, applies PATROL_* overrides and validates the result
func LoadValidated(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SetLogger replaces the logger used for reload messages
func (s *Service) SetLogger(log *logger.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = log
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldConfig := s.config

	newConfig, err := LoadValidated(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	s.config = newConfig

	for _, watcher := range s.watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	cfg.Patrol.DataDir = GetEnvWithDefault("PATROL_DATA_DIR", cfg.Patrol.DataDir)
	cfg.Patrol.NodeName = GetEnvWithDefault("PATROL_NODE_NAME", cfg.Patrol.NodeName)

	// Hardware selection
	cfg.Camera.Mode = GetEnvWithDefault("PATROL_CAMERA_MODE", cfg.Camera.Mode)
	cfg.Camera.Device = GetEnvWithDefault("PATROL_CAMERA_DEVICE", cfg.Camera.Device)
	cfg.Sensor.Mode = GetEnvWithDefault("PATROL_SENSOR_MODE", cfg.Sensor.Mode)
	cfg.Sensor.Pin = GetEnvWithDefault("PATROL_SENSOR_PIN", cfg.Sensor.Pin)
	cfg.Sensor.PollInterval = GetEnvDuration("PATROL_SENSOR_POLL_INTERVAL", cfg.Sensor.PollInterval)
	cfg.Sensor.SimulatedProbability = GetEnvFloat64("PATROL_SENSOR_SIMULATED_PROBABILITY", cfg.Sensor.SimulatedProbability)

	// Motion gate
	cfg.Motion.IdleTimeout = GetEnvDuration("PATROL_IDLE_TIMEOUT", cfg.Motion.IdleTimeout)
	cfg.Motion.ClipDuration = GetEnvDuration("PATROL_CLIP_DURATION", cfg.Motion.ClipDuration)
	if val := os.Getenv("PATROL_COOLDOWN"); val != "" {
		enabled := GetEnvBool("PATROL_COOLDOWN", true)
		cfg.Motion.Cooldown = &enabled
	}

	// Recognition
	cfg.Face.CorpusDir = GetEnvWithDefault("PATROL_CORPUS_DIR", cfg.Face.CorpusDir)
	cfg.Face.ModelPath = GetEnvWithDefault("PATROL_MODEL_PATH", cfg.Face.ModelPath)
	cfg.Face.LabelsPath = GetEnvWithDefault("PATROL_LABELS_PATH", cfg.Face.LabelsPath)
	cfg.Face.CascadePath = GetEnvWithDefault("PATROL_CASCADE_PATH", cfg.Face.CascadePath)
	cfg.Face.Threshold = GetEnvFloat64("PATROL_FACE_THRESHOLD", cfg.Face.Threshold)

	// Storage and recording
	cfg.Storage.EventsDir = GetEnvWithDefault("PATROL_EVENTS_DIR", cfg.Storage.EventsDir)
	cfg.Storage.RecordingsDir = GetEnvWithDefault("PATROL_RECORDINGS_DIR", cfg.Storage.RecordingsDir)
	cfg.Storage.LiveDir = GetEnvWithDefault("PATROL_LIVE_DIR", cfg.Storage.LiveDir)
	cfg.Recording.Encoder = GetEnvWithDefault("PATROL_RECORDING_ENCODER", cfg.Recording.Encoder)

	// Web
	cfg.Web.Host = GetEnvWithDefault("PATROL_WEB_HOST", cfg.Web.Host)
	cfg.Web.Port = GetEnvInt("PATROL_WEB_PORT", cfg.Web.Port)
	cfg.Web.StreamFPS = GetEnvInt("PATROL_STREAM_FPS", cfg.Web.StreamFPS)

	// Log settings
	cfg.Log.Level = GetEnvWithDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = GetEnvWithDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Output = GetEnvWithDefault("LOG_OUTPUT", cfg.Log.Output)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}

// GetEnvFloat64 gets a float64 environment variable
func GetEnvFloat64(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	result, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return defaultValue
	}
	return result
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the node configuration
type Config struct {
	Patrol    PatrolConfig    `yaml:"patrol"`
	Camera    CameraConfig    `yaml:"camera"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Motion    MotionConfig    `yaml:"motion"`
	Face      FaceConfig      `yaml:"face"`
	Storage   StorageConfig   `yaml:"storage"`
	Recording RecordingConfig `yaml:"recording"`
	Web       WebConfig       `yaml:"web"`
	Log       LogConfig       `yaml:"log,omitempty"`
}

// PatrolConfig contains node-wide settings
type PatrolConfig struct {
	NodeName string `yaml:"node_name"`
	DataDir  string `yaml:"data_dir"`
}

// Device modes shared by the camera and the sensor
const (
	ModeHardware  = "hardware"
	ModeSimulated = "simulated"
)

// CameraConfig contains camera device settings
type CameraConfig struct {
	Mode         string        `yaml:"mode"`   // hardware or simulated
	Device       string        `yaml:"device"` // device index ("0") or a path/URL accepted by OpenCV
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	Exposure     float64       `yaml:"exposure"`
	Gain         float64       `yaml:"gain"`
	OpenRetries  int           `yaml:"open_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// SensorConfig contains motion sensor settings
type SensorConfig struct {
	Mode                 string        `yaml:"mode"` // hardware or simulated
	Pin                  string        `yaml:"pin"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	SimulatedProbability float64       `yaml:"simulated_probability"`
}

// MotionConfig contains motion gate settings
type MotionConfig struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ClipDuration time.Duration `yaml:"clip_duration"`
	Cooldown     *bool         `yaml:"cooldown"`
}

// CooldownEnabled reports whether the post-event cooldown is active
func (m MotionConfig) CooldownEnabled() bool {
	return m.Cooldown == nil || *m.Cooldown
}

// CooldownWindow is the time the gate waits after an event before capturing again
func (m MotionConfig) CooldownWindow() time.Duration {
	return m.ClipDuration + time.Second
}

// FaceConfig contains face detection and recognition settings
type FaceConfig struct {
	CorpusDir     string  `yaml:"corpus_dir"`
	ModelPath     string  `yaml:"model_path"`
	LabelsPath    string  `yaml:"labels_path"`
	CascadePath   string  `yaml:"cascade_path"`
	Threshold     float64 `yaml:"threshold"`
	FaceSize      int     `yaml:"face_size"`
	ScaleFactor   float64 `yaml:"scale_factor"`
	MinNeighbors  int     `yaml:"min_neighbors"`
	MinSize       int     `yaml:"min_size"`
	LBPHRadius    int     `yaml:"lbph_radius"`
	LBPHNeighbors int     `yaml:"lbph_neighbors"`
	LBPHGrid      int     `yaml:"lbph_grid"` // cells per side
	CLAHEClip     float64 `yaml:"clahe_clip"`
	CLAHETile     int     `yaml:"clahe_tile"`
}

// StorageConfig contains media storage settings
type StorageConfig struct {
	EventsDir           string  `yaml:"events_dir"`
	RecordingsDir       string  `yaml:"recordings_dir"`
	LiveDir             string  `yaml:"live_dir"`
	MaxDiskUsagePercent float64 `yaml:"max_disk_usage_percent"`
}

// LivePath is the well-known path of the latest published frame
func (s StorageConfig) LivePath() string {
	return filepath.Join(s.LiveDir, "live.jpg")
}

// PreviewPath is the well-known path of the annotated preview frame
func (s StorageConfig) PreviewPath() string {
	return filepath.Join(s.LiveDir, "current.jpg")
}

// Clip encoders
const (
	EncoderFFmpeg = "ffmpeg"
	EncoderOpenCV = "opencv"
)

// RecordingConfig contains clip recording settings
type RecordingConfig struct {
	Encoder string `yaml:"encoder"` // ffmpeg or opencv
	FPS     int    `yaml:"fps"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	StreamFPS   int    `yaml:"stream_fps"`
	JPEGQuality int    `yaml:"jpeg_quality"`
	EventsLimit int    `yaml:"events_limit"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. An empty path with no
// default file present yields the built-in defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	var cfg Config
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}

		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	}

	cfg.setDefaults()

	return &cfg, nil
}

// Default returns a configuration populated only with defaults
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// getDefaultConfigPath returns the first existing default configuration path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/patrol.dev.yaml",
		"./config/patrol.yaml",
		"/etc/pi-patrol/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Patrol.NodeName == "" {
		c.Patrol.NodeName = "pi-patrol"
	}
	if c.Patrol.DataDir == "" {
		c.Patrol.DataDir = "./data"
	}
	dataDir := c.Patrol.DataDir

	if c.Camera.Mode == "" {
		c.Camera.Mode = ModeHardware
	}
	if c.Camera.Device == "" {
		c.Camera.Device = "0"
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 480
	}
	if c.Camera.Exposure == 0 {
		c.Camera.Exposure = 15000
	}
	if c.Camera.Gain == 0 {
		c.Camera.Gain = 2.0
	}
	if c.Camera.OpenRetries == 0 {
		c.Camera.OpenRetries = 3
	}
	if c.Camera.RetryBackoff == 0 {
		c.Camera.RetryBackoff = 500 * time.Millisecond
	}

	if c.Sensor.Mode == "" {
		c.Sensor.Mode = ModeHardware
	}
	if c.Sensor.Pin == "" {
		c.Sensor.Pin = "GPIO17"
	}
	if c.Sensor.PollInterval == 0 {
		c.Sensor.PollInterval = 300 * time.Millisecond
	}
	if c.Sensor.SimulatedProbability == 0 {
		c.Sensor.SimulatedProbability = 0.05
	}

	if c.Motion.IdleTimeout == 0 {
		c.Motion.IdleTimeout = 10 * time.Second
	}
	if c.Motion.ClipDuration == 0 {
		c.Motion.ClipDuration = 5 * time.Second
	}

	if c.Face.CorpusDir == "" {
		c.Face.CorpusDir = filepath.Join(dataDir, "known_faces")
	}
	if c.Face.ModelPath == "" {
		c.Face.ModelPath = filepath.Join(dataDir, "model", "model.yml")
	}
	if c.Face.LabelsPath == "" {
		c.Face.LabelsPath = filepath.Join(filepath.Dir(c.Face.ModelPath), "labels.json")
	}
	if c.Face.CascadePath == "" {
		c.Face.CascadePath = "/usr/share/opencv4/haarcascades/haarcascade_frontalface_default.xml"
	}
	if c.Face.Threshold == 0 {
		c.Face.Threshold = 70
	}
	if c.Face.FaceSize == 0 {
		c.Face.FaceSize = 200
	}
	if c.Face.ScaleFactor == 0 {
		c.Face.ScaleFactor = 1.1
	}
	if c.Face.MinNeighbors == 0 {
		c.Face.MinNeighbors = 4
	}
	if c.Face.MinSize == 0 {
		c.Face.MinSize = 80
	}
	if c.Face.LBPHRadius == 0 {
		c.Face.LBPHRadius = 2
	}
	if c.Face.LBPHNeighbors == 0 {
		c.Face.LBPHNeighbors = 8
	}
	if c.Face.LBPHGrid == 0 {
		c.Face.LBPHGrid = 8
	}
	if c.Face.CLAHEClip == 0 {
		c.Face.CLAHEClip = 2.0
	}
	if c.Face.CLAHETile == 0 {
		c.Face.CLAHETile = 8
	}

	if c.Storage.EventsDir == "" {
		c.Storage.EventsDir = filepath.Join(dataDir, "events")
	}
	if c.Storage.RecordingsDir == "" {
		c.Storage.RecordingsDir = filepath.Join(dataDir, "recordings")
	}
	if c.Storage.LiveDir == "" {
		c.Storage.LiveDir = filepath.Join(dataDir, "live")
	}
	if c.Storage.MaxDiskUsagePercent == 0 {
		c.Storage.MaxDiskUsagePercent = 90
	}

	if c.Recording.Encoder == "" {
		c.Recording.Encoder = EncoderFFmpeg
	}
	if c.Recording.FPS == 0 {
		c.Recording.FPS = 15
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 5050
	}
	if c.Web.StreamFPS == 0 {
		c.Web.StreamFPS = 15
	}
	if c.Web.JPEGQuality == 0 {
		c.Web.JPEGQuality = 70
	}
	if c.Web.EventsLimit == 0 {
		c.Web.EventsLimit = 50
	}
}

// DatabasePath returns the location of the event database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Patrol.DataDir, "db", "patrol.db")
}

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pipatrol/patrol/internal/face"
	"github.com/pipatrol/patrol/internal/storage"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// Pinger is satisfied by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	if c.db == nil {
		check.Status = StatusUnhealthy
		check.Message = "Database not open"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// DiskUsageProvider reports usage of the media filesystem
type DiskUsageProvider interface {
	GetDiskUsage(ctx context.Context) (*storage.DiskUsage, error)
	MaxDiskUsagePercent() float64
}

// StorageChecker checks that media directories are writable and the disk
// is not full
type StorageChecker struct {
	dirs []string
	disk DiskUsageProvider
}

func NewStorageChecker(disk DiskUsageProvider, dirs ...string) *StorageChecker {
	return &StorageChecker{dirs: dirs, disk: disk}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	for _, dir := range c.dirs {
		if err := probeWritable(dir); err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Directory %s not writable: %v", dir, err)
			return check
		}
	}
	check.Details["dirs"] = c.dirs

	check.Status = StatusHealthy
	check.Message = "Storage directories accessible"

	if c.disk == nil {
		return check
	}
	usage, err := c.disk.GetDiskUsage(ctx)
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage unavailable: %v", err)
		return check
	}
	check.Details["usage_percent"] = usage.UsagePercent
	check.Details["available_bytes"] = usage.AvailableBytes
	if usage.UsagePercent >= c.disk.MaxDiskUsagePercent() {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Disk usage %.1f%% above limit", usage.UsagePercent)
	}
	return check
}

func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}

// CameraStatus is the part of the capture engine the checker inspects
type CameraStatus interface {
	IsActive() bool
	Degraded() (bool, error)
	DeviceName() string
}

// CameraChecker reports whether the camera could be opened
type CameraChecker struct {
	camera CameraStatus
}

func NewCameraChecker(camera CameraStatus) *CameraChecker {
	return &CameraChecker{camera: camera}
}

func (c *CameraChecker) Name() string {
	return "camera"
}

func (c *CameraChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["device"] = c.camera.DeviceName()
	check.Details["active"] = c.camera.IsActive()

	if degraded, err := c.camera.Degraded(); degraded {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Camera unavailable: %v", err)
		return check
	}
	if c.camera.DeviceName() == "simulated" {
		check.Status = StatusDegraded
		check.Message = "Using simulated frames"
		return check
	}

	check.Status = StatusHealthy
	if c.camera.IsActive() {
		check.Message = "Camera streaming"
	} else {
		check.Message = "Camera asleep"
	}
	return check
}

// SensorChecker reports which motion sensor is in use. The simulated
// sensor counts as degraded.
type SensorChecker struct {
	name string
}

func NewSensorChecker(name string) *SensorChecker {
	return &SensorChecker{name: name}
}

func (c *SensorChecker) Name() string {
	return "sensor"
}

func (c *SensorChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["sensor"] = c.name

	if c.name == "simulated" {
		check.Status = StatusDegraded
		check.Message = "Using simulated motion sensor"
		return check
	}
	check.Status = StatusHealthy
	check.Message = "Motion sensor OK"
	return check
}

// ModelInfoProvider describes the installed recognition model
type ModelInfoProvider interface {
	Info() face.ModelInfo
}

// ModelChecker reports whether faces can be identified
type ModelChecker struct {
	model ModelInfoProvider
}

func NewModelChecker(model ModelInfoProvider) *ModelChecker {
	return &ModelChecker{model: model}
}

func (c *ModelChecker) Name() string {
	return "model"
}

func (c *ModelChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	info := c.model.Info()
	check.Details["labels"] = info.Labels
	check.Details["samples"] = info.Samples

	if !info.Trained {
		check.Status = StatusDegraded
		check.Message = "No model trained, all faces are reported as Unknown"
		return check
	}
	check.Status = StatusHealthy
	check.Message = fmt.Sprintf("Model trained on %d people", len(info.Labels))
	return check
}

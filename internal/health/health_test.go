package health

import (
	"context"
	"errors"
	"testing"

	"github.com/pipatrol/patrol/internal/face"
	"github.com/pipatrol/patrol/internal/storage"
	"github.com/stretchr/testify/assert"
)

type staticChecker struct {
	name   string
	status Status
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(ctx context.Context) Check {
	return Check{Name: c.name, Status: c.status}
}

type pinger struct{ err error }

func (p pinger) PingContext(ctx context.Context) error { return p.err }

type camStatus struct {
	active   bool
	degraded bool
	name     string
}

func (c camStatus) IsActive() bool { return c.active }
func (c camStatus) Degraded() (bool, error) {
	if c.degraded {
		return true, errors.New("no device")
	}
	return false, nil
}
func (c camStatus) DeviceName() string {
	if c.name == "" {
		return "/dev/video0"
	}
	return c.name
}

type modelInfo face.ModelInfo

func (m modelInfo) Info() face.ModelInfo { return face.ModelInfo(m) }

type disk struct {
	usage float64
	err   error
}

func (d disk) GetDiskUsage(ctx context.Context) (*storage.DiskUsage, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &storage.DiskUsage{UsagePercent: d.usage}, nil
}
func (d disk) MaxDiskUsagePercent() float64 { return 90 }

func TestManager_OverallStatus(t *testing.T) {
	m := NewManager(nil, nil)
	assert.Equal(t, StatusHealthy, m.Check(context.Background()).Status)

	m.RegisterChecker(staticChecker{"a", StatusHealthy})
	m.RegisterChecker(staticChecker{"b", StatusDegraded})
	report := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Len(t, report.Checks, 2)

	m.RegisterChecker(staticChecker{"c", StatusUnhealthy})
	m.RegisterChecker(staticChecker{"d", StatusDegraded})
	assert.Equal(t, StatusUnhealthy, m.Check(context.Background()).Status)
}

func TestDatabaseChecker(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, StatusHealthy, NewDatabaseChecker(pinger{}).Check(ctx).Status)
	assert.Equal(t, StatusUnhealthy, NewDatabaseChecker(pinger{err: errors.New("closed")}).Check(ctx).Status)
	assert.Equal(t, StatusUnhealthy, NewDatabaseChecker(nil).Check(ctx).Status)
}

func TestStorageChecker(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	assert.Equal(t, StatusHealthy, NewStorageChecker(disk{usage: 40}, dir).Check(ctx).Status)
	assert.Equal(t, StatusDegraded, NewStorageChecker(disk{usage: 95}, dir).Check(ctx).Status)
	assert.Equal(t, StatusDegraded, NewStorageChecker(disk{err: errors.New("statfs")}, dir).Check(ctx).Status)
	assert.Equal(t, StatusHealthy, NewStorageChecker(nil, dir).Check(ctx).Status)
}

func TestCameraChecker(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, StatusHealthy, NewCameraChecker(camStatus{}).Check(ctx).Status)

	check := NewCameraChecker(camStatus{degraded: true}).Check(ctx)
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Contains(t, check.Message, "no device")

	check = NewCameraChecker(camStatus{name: "simulated"}).Check(ctx)
	assert.Equal(t, StatusDegraded, check.Status)
}

func TestSensorAndModelCheckers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, StatusDegraded, NewSensorChecker("simulated").Check(ctx).Status)
	assert.Equal(t, StatusHealthy, NewSensorChecker("gpio:GPIO17").Check(ctx).Status)

	assert.Equal(t, StatusDegraded, NewModelChecker(modelInfo{}).Check(ctx).Status)
	assert.Equal(t, StatusHealthy, NewModelChecker(modelInfo{Trained: true, Labels: []string{"alice"}}).Check(ctx).Status)
}

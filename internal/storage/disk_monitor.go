package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pipatrol/patrol/internal/logger"
)

// DiskMonitor reports disk usage of the filesystem holding the media directories
type DiskMonitor struct {
	path            string
	maxUsagePercent float64
	logger          *logger.Logger
	mu              sync.RWMutex
	lastCheck       time.Time
	cacheDuration   time.Duration
	cachedUsage     *DiskUsage
}

// DiskUsage contains disk usage information
type DiskUsage struct {
	TotalBytes     int64
	UsedBytes      int64
	AvailableBytes int64
	UsagePercent   float64
}

// NewDiskMonitor creates a new disk monitor
func NewDiskMonitor(path string, maxUsagePercent float64, log *logger.Logger) (*DiskMonitor, error) {
	if maxUsagePercent <= 0 || maxUsagePercent > 100 {
		return nil, fmt.Errorf("max usage percent must be in (0, 100], got %v", maxUsagePercent)
	}
	return &DiskMonitor{
		path:            path,
		maxUsagePercent: maxUsagePercent,
		logger:          log,
		cacheDuration:   30 * time.Second,
	}, nil
}

// GetUsage returns current disk usage, cached for a short period
func (d *DiskMonitor) GetUsage(ctx context.Context) (*DiskUsage, error) {
	d.mu.RLock()
	if d.cachedUsage != nil && time.Since(d.lastCheck) < d.cacheDuration {
		usage := *d.cachedUsage
		d.mu.RUnlock()
		return &usage, nil
	}
	d.mu.RUnlock()

	usage, err := d.getDiskUsage()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cachedUsage = usage
	d.lastCheck = time.Now()
	d.mu.Unlock()

	if usage.UsagePercent >= d.maxUsagePercent {
		d.logger.Warn("Disk usage above limit",
			"path", d.path,
			"usage_percent", usage.UsagePercent,
			"max_percent", d.maxUsagePercent,
		)
	}

	copied := *usage
	return &copied, nil
}

// CheckSpace reports whether usage is below the configured maximum
func (d *DiskMonitor) CheckSpace(ctx context.Context) (bool, error) {
	usage, err := d.GetUsage(ctx)
	if err != nil {
		return false, err
	}

	return usage.UsagePercent < d.maxUsagePercent, nil
}

func (d *DiskMonitor) getDiskUsage() (*DiskUsage, error) {
	absPath, err := filepath.Abs(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(absPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	totalBytes := int64(stat.Blocks) * int64(stat.Bsize)
	availableBytes := int64(stat.Bavail) * int64(stat.Bsize)
	usedBytes := totalBytes - availableBytes

	var usagePercent float64
	if totalBytes > 0 {
		usagePercent = float64(usedBytes) / float64(totalBytes) * 100.0
	}

	return &DiskUsage{
		TotalBytes:     totalBytes,
		UsedBytes:      usedBytes,
		AvailableBytes: availableBytes,
		UsagePercent:   usagePercent,
	}, nil
}

package camera

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// DeviceAuto selects the first V4L2 capture device found
const DeviceAuto = "auto"

// VideoDeviceInfo describes a V4L2 device node
type VideoDeviceInfo struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	Driver string `json:"driver,omitempty"`
}

// ListVideoDevices finds /dev/video* character devices under devDir and
// describes them from sysfs, or v4l2-ctl when it is installed.
func ListVideoDevices(devDir string) ([]VideoDeviceInfo, error) {
	if devDir == "" {
		devDir = "/dev"
	}

	matches, err := filepath.Glob(filepath.Join(devDir, "video*"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob video devices: %w", err)
	}
	sort.Strings(matches)

	var devices []VideoDeviceInfo
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.Mode()&os.ModeCharDevice == 0 {
			continue
		}

		dev := VideoDeviceInfo{Path: match, Name: "USB Camera"}
		if name, err := os.ReadFile(filepath.Join("/sys/class/video4linux", filepath.Base(match), "name")); err == nil {
			dev.Name = strings.TrimSpace(string(name))
		}
		if driver, card := v4l2Info(match); card != "" {
			dev.Driver = driver
			dev.Name = card
		}
		devices = append(devices, dev)
	}

	return devices, nil
}

// v4l2Info returns driver and card names reported by v4l2-ctl
func v4l2Info(devicePath string) (driver, card string) {
	if _, err := exec.LookPath("v4l2-ctl"); err != nil {
		return "", ""
	}
	output, err := exec.Command("v4l2-ctl", "--device", devicePath, "--info").Output()
	if err != nil {
		return "", ""
	}
	return parseV4L2Info(string(output))
}

func parseV4L2Info(output string) (driver, card string) {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Driver name":
			driver = strings.TrimSpace(value)
		case "Card type":
			card = strings.TrimSpace(value)
		}
	}
	return driver, card
}

// ResolveDevice maps the configured device to a concrete one. "auto" picks
// the first device found under devDir.
func ResolveDevice(configured, devDir string) (string, error) {
	if configured != DeviceAuto {
		return configured, nil
	}
	devices, err := ListVideoDevices(devDir)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("%w: no video devices in %s", ErrHardwareUnavailable, devDir)
	}
	return devices[0].Path, nil
}

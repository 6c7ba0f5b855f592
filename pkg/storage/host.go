package storage

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	hostOnce  sync.Once
	hostValue string
)

// hostID identifies the machine that ran the dispatch: the hardware UUID when
// available, else the hostname.
func hostID() string {
	hostOnce.Do(func() {
		if id, err := getHostUUID(); err == nil && id != "" {
			hostValue = id
			return
		}
		if name, err := os.Hostname(); err == nil {
			hostValue = strings.TrimSpace(name)
		}
	})
	return hostValue
}

// getHostUUID returns a best-effort hardware UUID for the host.
// On macOS it uses `system_profiler`; on Linux it prefers /etc/machine-id then falls back to /sys/class/dmi/id/product_uuid.
func getHostUUID() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cmd := exec.CommandContext(ctx, "bash", "-c", "system_profiler SPHardwareDataType | awk '/Hardware UUID/ {print $3}'")
		out, err := cmd.Output()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(out)), nil
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/sys/class/dmi/id/product_uuid"} {
			if data, err := os.ReadFile(path); err == nil {
				if id := strings.TrimSpace(string(data)); id != "" {
					return id, nil
				}
			}
		}
		return "", nil
	default:
		return "", nil
	}
}

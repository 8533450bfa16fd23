package preferences

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
)

// DeviceFingerprint identifies this machine for key derivation when no device
// id is configured. It hashes the primary MAC address, the host name and the
// platform; unavailable factors are replaced by fixed placeholders. The value
// is computed once per process.
var DeviceFingerprint = sync.OnceValue(func() string {
	factors := []string{
		primaryMAC(),
		normalizedHostname(),
		runtime.GOOS,
		runtime.GOARCH,
	}
	sum := sha256.Sum256([]byte(strings.Join(factors, "|")))
	return hex.EncodeToString(sum[:])
})

// primaryMAC returns the first up, non-loopback interface's hardware address,
// falling back to any interface that has one.
func primaryMAC() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		slog.Warn("Failed to list network interfaces", slog.String("error", err.Error()))
		return "unknown-mac"
	}

	var fallback string
	for _, iface := range interfaces {
		mac := iface.HardwareAddr.String()
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		if iface.Flags&net.FlagLoopback == 0 && iface.Flags&net.FlagUp != 0 {
			return mac
		}
		if fallback == "" {
			fallback = mac
		}
	}
	if fallback == "" {
		return "unknown-mac"
	}
	return fallback
}

func normalizedHostname() string {
	hostname, err := os.Hostname()
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if err != nil || hostname == "" {
		return "unknown-host"
	}
	return hostname
}

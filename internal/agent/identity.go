// ABOUTME: Agent identity and platform naming
// ABOUTME: Identity is fixed for the life of the process and unique per start

package agent

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewIdentity builds "agent-<hostname>-<unix start>-<8 hex>". The random
// suffix keeps two agents started in the same second on cloned machines apart.
func NewIdentity(hostname string, start time.Time) string {
	host := sanitizeHost(hostname)
	if host == "" {
		host = "unknown"
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("agent-%s-%d-%s", host, start.Unix(), suffix)
}

// ResolveIdentity returns configured when set, otherwise a fresh identity
// for this host.
func ResolveIdentity(configured string) string {
	if configured != "" {
		return configured
	}
	host, _ := os.Hostname()
	return NewIdentity(host, time.Now())
}

func sanitizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if i := strings.IndexByte(h, '.'); i > 0 {
		h = h[:i]
	}
	var b strings.Builder
	for _, r := range h {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Platform names the host OS the way agents report it ("Linux", "Windows", "Darwin").
func Platform() string {
	return platformName(runtime.GOOS)
}

func platformName(goos string) string {
	switch goos {
	case "linux":
		return "Linux"
	case "windows":
		return "Windows"
	case "darwin":
		return "Darwin"
	case "":
		return "Unknown"
	default:
		return strings.ToUpper(goos[:1]) + goos[1:]
	}
}

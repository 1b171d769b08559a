package monitor

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// isoSeconds is ISO-8601 with offset, second precision.
const isoSeconds = "2006-01-02T15:04:05-07:00"

// TargetName is the short name a target is logged under: the local
// hostname for unix socket targets, otherwise the target host without port
// or ".local" suffix, lower-cased.
func TargetName(target string, hostname func() (string, error)) string {
	name := target
	if strings.HasPrefix(target, "unix:") {
		if hostname == nil {
			hostname = os.Hostname
		}
		h, err := hostname()
		if err != nil || h == "" {
			h = "localhost"
		}
		name = h
	}
	name = strings.TrimPrefix(name, "tcp://")
	name, _, _ = strings.Cut(name, ":")
	name = strings.TrimSuffix(name, ".local")
	return strings.ToLower(name)
}

// LogKey identifies a session log on the server.
func LogKey(version int, group, typ, target string, start time.Time) string {
	return fmt.Sprintf("v%d__%s__%s__%s__%d", version, group, strings.ToLower(typ), target, start.Unix())
}

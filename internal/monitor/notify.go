package monitor

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier delivers service-manager state strings ("READY=1", ...).
type Notifier func(state string) (bool, error)

// SystemdNotifier talks to systemd through $NOTIFY_SOCKET. It is a no-op
// when sysmon is not started by systemd.
func SystemdNotifier() Notifier {
	return func(state string) (bool, error) { return daemon.SdNotify(false, state) }
}

func statusState(line string) string { return "STATUS=" + line }

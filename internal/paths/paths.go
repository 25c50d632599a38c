// Package paths resolves the well-known filesystem locations shared by
// scribe monitors and hook invocations on a single host. Everything lives
// in a runtime directory under the system temp dir so that short-lived
// hook processes can find running monitors without any configuration.
package paths

import (
	"os"
	"path/filepath"
)

const (
	registryFileName = "scribe-registry.json"
	sentinelSockName = "scribe-sentinel.sock"
	socketPrefix     = "scribe-"
)

// RuntimeDir returns the directory holding the registry and sockets.
// SCRIBE_RUNTIME_DIR overrides the default (used by tests, and by setups
// where TMPDIR differs between the monitor and the hook environment).
func RuntimeDir() string {
	if dir := os.Getenv("SCRIBE_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

// Registry returns the path of the shared monitor registry file.
func Registry() string {
	return filepath.Join(RuntimeDir(), registryFileName)
}

// RegistryLock returns the path of the registry's advisory lock file.
func RegistryLock() string {
	return Registry() + ".lock"
}

// EventSocket returns the hook event socket path for a monitor ID.
func EventSocket(monitorID string) string {
	return filepath.Join(RuntimeDir(), socketPrefix+monitorID+".sock")
}

// ControlSocket returns the control socket path for a monitor ID.
func ControlSocket(monitorID string) string {
	return filepath.Join(RuntimeDir(), socketPrefix+monitorID+".ctl")
}

// SentinelSocket returns the fixed address of the liveness sentinel.
// SessionStart events are multicast here in addition to the owning monitor.
func SentinelSocket() string {
	return filepath.Join(RuntimeDir(), sentinelSockName)
}

// ConfigDir returns the scribe configuration directory (~/.scribe/).
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".scribe")
	}
	return filepath.Join(home, ".scribe")
}

package monitor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"scribe/internal/paths"
	"scribe/internal/registry"
)

// ForkMonitor starts a monitor for scopeDir in a detached background
// process by re-execing with the hidden _daemon subcommand, then waits
// for the monitor's registry entry to appear. Returns the new entry.
func ForkMonitor(scopeDir, outputDir string) (registry.Entry, error) {
	scope, err := filepath.Abs(scopeDir)
	if err != nil {
		return registry.Entry{}, err
	}
	exe, err := os.Executable()
	if err != nil {
		return registry.Entry{}, fmt.Errorf("find executable: %w", err)
	}

	args := []string{"_daemon", "--scope", scope, "--output", outputDir}
	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = newSysProcAttr()

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return registry.Entry{}, fmt.Errorf("open /dev/null: %w", err)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		devNull.Close()
		return registry.Entry{}, fmt.Errorf("start monitor: %w", err)
	}

	// Reap without blocking the caller.
	go func() {
		cmd.Wait()
		devNull.Close()
	}()

	// Wait for the child to register itself.
	reg := registry.New(paths.Registry())
	started := time.Now()
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		for _, e := range reg.List() {
			if e.Alive && e.ScopeDir == scope && !e.StartedAt.Before(started.Add(-time.Second)) {
				return e.Entry, nil
			}
		}
	}
	return registry.Entry{}, fmt.Errorf("monitor for %s did not register within 5s", scope)
}

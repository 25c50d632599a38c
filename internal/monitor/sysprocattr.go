//go:build !windows

package monitor

import "syscall"

// newSysProcAttr detaches the forked monitor into its own session so it
// survives the parent's terminal closing.
func newSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

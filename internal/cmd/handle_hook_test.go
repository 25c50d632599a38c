package cmd

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"scribe/internal/hookevent"
	"scribe/internal/paths"
	"scribe/internal/registry"
)

// testRuntimeDir points the registry and sockets at a short-lived dir.
func testRuntimeDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "scribe-cmd")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	t.Setenv("SCRIBE_RUNTIME_DIR", dir)
	return dir
}

// lineCollector accepts connections on a unix socket and records every
// received line.
type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func startCollector(t *testing.T, path string) *lineCollector {
	t.Helper()
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	c := &lineCollector{}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					c.mu.Lock()
					c.lines = append(c.lines, scanner.Text())
					c.mu.Unlock()
				}
			}()
		}
	}()
	return c
}

func (c *lineCollector) waitForLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.lines) >= n {
			out := append([]string(nil), c.lines...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines", n)
	return nil
}

func registerTestMonitor(t *testing.T, id, scope string) registry.Entry {
	t.Helper()
	entry := registry.Entry{
		ID:            id,
		ListenAddress: paths.EventSocket(id),
		ScopeDir:      scope,
		OutputDir:     scope,
		OwnerPID:      os.Getpid(),
		StartedAt:     time.Now(),
	}
	if err := registry.New(paths.Registry()).Register(entry); err != nil {
		t.Fatalf("register: %v", err)
	}
	return entry
}

func runHandleHook(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"handle-hook"}, args...))
	if err := root.Execute(); err != nil {
		t.Fatalf("handle-hook returned error: %v", err)
	}
	return out.String()
}

func TestHandleHookForwardsToScopedMonitor(t *testing.T) {
	testRuntimeDir(t)
	entry := registerTestMonitor(t, "mon1", "/projects")
	collector := startCollector(t, entry.ListenAddress)

	out := runHandleHook(t, `{
		"hook_event_name": "PostToolUse",
		"session_id": "sess-1",
		"transcript_path": "/tmp/t.jsonl",
		"cwd": "/projects/demo",
		"tool_name": "Bash"
	}`)
	if !strings.Contains(out, "{}") {
		t.Errorf("stdout = %q, want hook response {}", out)
	}

	lines := collector.waitForLines(t, 1)
	ev, err := hookevent.Parse([]byte(lines[0]))
	if err != nil {
		t.Fatalf("forwarded line unparsable: %v", err)
	}
	if ev.Kind != hookevent.KindPostToolUse {
		t.Errorf("kind = %q, want PostToolUse", ev.Kind)
	}
	if ev.SessionID != "sess-1" {
		t.Errorf("session = %q, want sess-1", ev.SessionID)
	}
	if ev.WorkingDir != "/projects/demo" {
		t.Errorf("cwd = %q", ev.WorkingDir)
	}
	if hookevent.ToolName(ev.Payload) != "Bash" {
		t.Errorf("payload lost tool_name: %s", ev.Payload)
	}
}

func TestHandleHookNoMonitorStillExitsZero(t *testing.T) {
	testRuntimeDir(t)

	out := runHandleHook(t, `{"hook_event_name":"PostToolUse","session_id":"s","cwd":"/nowhere"}`)
	if !strings.Contains(out, "{}") {
		t.Errorf("stdout = %q, want {}", out)
	}
}

func TestHandleHookUnparsableStdinStillExitsZero(t *testing.T) {
	testRuntimeDir(t)

	out := runHandleHook(t, "not json at all")
	if !strings.Contains(out, "{}") {
		t.Errorf("stdout = %q, want {}", out)
	}
}

func TestHandleHookEventFlagOverridesPayload(t *testing.T) {
	testRuntimeDir(t)
	entry := registerTestMonitor(t, "mon1", "/projects")
	collector := startCollector(t, entry.ListenAddress)

	runHandleHook(t, `{"hook_event_name":"PostToolUse","session_id":"s","cwd":"/projects"}`,
		"--event", "Stop")

	lines := collector.waitForLines(t, 1)
	ev, err := hookevent.Parse([]byte(lines[0]))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != hookevent.KindStop {
		t.Errorf("kind = %q, want Stop (flag override)", ev.Kind)
	}
}

func TestHandleHookSessionStartMulticastsToSentinel(t *testing.T) {
	testRuntimeDir(t)
	entry := registerTestMonitor(t, "mon1", "/projects")
	monitorSock := startCollector(t, entry.ListenAddress)
	sentinel := startCollector(t, paths.SentinelSocket())

	runHandleHook(t, `{"hook_event_name":"SessionStart","session_id":"s","transcript_path":"/tmp/t.jsonl","cwd":"/projects"}`)

	monitorSock.waitForLines(t, 1)
	lines := sentinel.waitForLines(t, 1)
	ev, err := hookevent.Parse([]byte(lines[0]))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != hookevent.KindSessionStart {
		t.Errorf("sentinel received kind %q, want SessionStart", ev.Kind)
	}
}

func TestHandleHookPrefersMostSpecificScope(t *testing.T) {
	testRuntimeDir(t)
	outer := registerTestMonitor(t, "outer", "/projects")
	inner := registerTestMonitor(t, "inner", "/projects/demo")
	outerSock := startCollector(t, outer.ListenAddress)
	innerSock := startCollector(t, inner.ListenAddress)

	runHandleHook(t, `{"hook_event_name":"PostToolUse","session_id":"s","cwd":"/projects/demo/src"}`)

	innerSock.waitForLines(t, 1)
	outerSock.mu.Lock()
	defer outerSock.mu.Unlock()
	if len(outerSock.lines) != 0 {
		t.Errorf("outer monitor received %d lines, want 0", len(outerSock.lines))
	}
}

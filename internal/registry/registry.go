// Package registry maintains the shared, file-persisted table of running
// monitors and the directory scope each one owns. All monitor processes and
// every hook invocation on the host read and mutate the same JSON file;
// mutations are serialized with an OS file lock, reads for routing are
// deliberately unlocked (a stale read can at worst route to a monitor that
// just died, and the forwarder tolerates that).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"scribe/internal/errcode"
)

// SchemaVersion is the registry file format version.
const SchemaVersion = 1

const (
	// DefaultLockTimeout bounds advisory lock acquisition.
	DefaultLockTimeout = 5 * time.Second
	// DefaultLockRetry is the polling interval while waiting for the lock.
	DefaultLockRetry = 50 * time.Millisecond
)

// Entry identifies one running monitor and the subtree it claims.
type Entry struct {
	ID            string    `json:"id"`
	ListenAddress string    `json:"listenAddress"`
	ScopeDir      string    `json:"scopeDirectory"`
	OutputDir     string    `json:"outputDirectory"`
	OwnerPID      int       `json:"ownerProcessId"`
	StartedAt     time.Time `json:"startedAt"`
}

// registryFile is the persisted structure, written as one atomic unit.
type registryFile struct {
	Monitors      []Entry `json:"monitors"`
	SchemaVersion int     `json:"schemaVersion"`
}

// Registry provides locked mutation and unlocked routing lookups over the
// shared registry file.
type Registry struct {
	path     string
	lockPath string

	// ProcessAlive reports whether the given pid exists. Pluggable so
	// tests (and alternative liveness strategies) can substitute it.
	ProcessAlive func(pid int) bool

	// LockTimeout and LockRetry bound advisory lock acquisition.
	LockTimeout time.Duration
	LockRetry   time.Duration

	log *logrus.Entry
}

// New creates a Registry over the given file path. The lock file is the
// registry path plus ".lock".
func New(path string) *Registry {
	return &Registry{
		path:         path,
		lockPath:     path + ".lock",
		ProcessAlive: pidExists,
		LockTimeout:  DefaultLockTimeout,
		LockRetry:    DefaultLockRetry,
		log:          logrus.WithField("component", "registry"),
	}
}

// pidExists is the default liveness probe.
func pidExists(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	if err != nil {
		// Can't probe — assume alive rather than evict a healthy monitor.
		return true
	}
	return ok
}

// withLock runs fn while holding the registry file lock. Acquisition polls
// every LockRetry up to LockTimeout and fails with LOCK_TIMEOUT when the
// window elapses. The kernel releases the lock if the holder dies, so no
// stale-holder cleanup is needed.
func (r *Registry) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.lockPath), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	fl := flock.New(r.lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), r.LockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, r.LockRetry)
	if err != nil || !locked {
		return errcode.Newf(errcode.LockTimeout,
			"registry lock %s not acquired within %s", r.lockPath, r.LockTimeout)
	}
	defer fl.Unlock()
	return fn()
}

// load reads the registry file. A missing or unparsable file is an empty
// registry (self-healing), not an error.
func (r *Registry) load() registryFile {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return registryFile{SchemaVersion: SchemaVersion}
	}
	var rf registryFile
	if err := json.Unmarshal(data, &rf); err != nil {
		r.log.WithError(err).Warn("registry file unparsable, treating as empty")
		return registryFile{SchemaVersion: SchemaVersion}
	}
	return rf
}

// save writes the registry atomically: temp file in the same directory,
// then rename over the canonical path. Concurrent unlocked readers never
// observe a partial write.
func (r *Registry) save(rf registryFile) error {
	rf.SchemaVersion = SchemaVersion
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".scribe-registry-*")
	if err != nil {
		return fmt.Errorf("create registry temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write registry temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close registry temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename registry file: %w", err)
	}
	return nil
}

// Register inserts entry, first discarding any existing entry with the
// same ID or a dead owner process.
func (r *Registry) Register(entry Entry) error {
	return r.withLock(func() error {
		rf := r.load()
		kept := rf.Monitors[:0]
		for _, e := range rf.Monitors {
			if e.ID == entry.ID {
				continue
			}
			if !r.ProcessAlive(e.OwnerPID) {
				r.log.WithFields(logrus.Fields{"id": e.ID, "pid": e.OwnerPID}).
					Debug("dropping stale entry during register")
				continue
			}
			kept = append(kept, e)
		}
		rf.Monitors = append(kept, entry)
		return r.save(rf)
	})
}

// Unregister removes the entry with the given ID. No-op if absent.
func (r *Registry) Unregister(id string) error {
	return r.withLock(func() error {
		rf := r.load()
		kept := rf.Monitors[:0]
		removed := false
		for _, e := range rf.Monitors {
			if e.ID == id {
				removed = true
				continue
			}
			kept = append(kept, e)
		}
		if !removed {
			return nil
		}
		rf.Monitors = kept
		return r.save(rf)
	})
}

// CleanupStale removes all entries whose owner process is dead and
// returns the count removed.
func (r *Registry) CleanupStale() (int, error) {
	removed := 0
	err := r.withLock(func() error {
		rf := r.load()
		kept := rf.Monitors[:0]
		for _, e := range rf.Monitors {
			if !r.ProcessAlive(e.OwnerPID) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if removed == 0 {
			return nil
		}
		rf.Monitors = kept
		return r.save(rf)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// List returns all entries currently on disk, live or not, with a liveness
// flag alongside each. Reads without the lock.
func (r *Registry) List() []ListedEntry {
	rf := r.load()
	out := make([]ListedEntry, 0, len(rf.Monitors))
	for _, e := range rf.Monitors {
		out = append(out, ListedEntry{Entry: e, Alive: r.ProcessAlive(e.OwnerPID)})
	}
	return out
}

// ListedEntry pairs an Entry with its probed liveness.
type ListedEntry struct {
	Entry
	Alive bool
}

// Lookup returns the live entry with the given ID.
func (r *Registry) Lookup(id string) (Entry, bool) {
	rf := r.load()
	for _, e := range rf.Monitors {
		if e.ID == id && r.ProcessAlive(e.OwnerPID) {
			return e, true
		}
	}
	return Entry{}, false
}

// FindMatching returns the live entry whose scope directory is an
// ancestor-or-equal of path, preferring the longest (most specific) scope.
// Reads without the lock: routing is advisory, not safety-critical.
func (r *Registry) FindMatching(path string) (Entry, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Entry{}, false
	}
	abs = filepath.Clean(abs)

	rf := r.load()
	// Longest scope first so the first live match wins.
	sort.SliceStable(rf.Monitors, func(i, j int) bool {
		return len(rf.Monitors[i].ScopeDir) > len(rf.Monitors[j].ScopeDir)
	})
	for _, e := range rf.Monitors {
		if !scopeContains(e.ScopeDir, abs) {
			continue
		}
		if !r.ProcessAlive(e.OwnerPID) {
			continue
		}
		return e, true
	}
	return Entry{}, false
}

// scopeContains reports whether scope is an ancestor-or-equal of path.
// The comparison is on cleaned absolute paths with a separator boundary,
// so scope /projects does not match /projectsX.
func scopeContains(scope, path string) bool {
	if scope == "" {
		return false
	}
	scope = filepath.Clean(scope)
	if scope == path {
		return true
	}
	if scope == string(filepath.Separator) {
		return strings.HasPrefix(path, scope)
	}
	return strings.HasPrefix(path, scope+string(filepath.Separator))
}

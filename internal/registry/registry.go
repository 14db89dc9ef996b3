// Package registry tracks long-lived units of work (AI-query streams and
// interactive terminals) so they can be aborted and cleaned up from
// outside the goroutine that owns them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Sentinel errors
var (
	ErrDuplicateSession = errors.New("session id already active")
	ErrSessionNotFound  = errors.New("session not found")
)

// Kind distinguishes the two session flavors.
type Kind string

const (
	KindQuery    Kind = "query"
	KindTerminal Kind = "terminal"
)

// Status of a session entry.
type Status string

const (
	StatusActive    Status = "active"
	StatusAborted   Status = "aborted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Handle is the control surface of a running unit of work. Both calls
// are best-effort: returning does not mean the underlying process has
// exited yet.
type Handle interface {
	Interrupt() error
	Kill() error
}

// Entry is one tracked session.
type Entry struct {
	ID        string
	UserID    string
	Kind      Kind
	Handle    Handle
	StartedAt time.Time
	Status    Status

	cleanup []Resource
}

// Registry is a process-wide map of active sessions. It is constructed
// once and injected into every consumer; all methods are safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	logger  *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

// Register adds a new active session. Registering an id that is already
// active is a caller bug and fails with ErrDuplicateSession.
func (r *Registry) Register(id, userID string, kind Kind, handle Handle, cleanup ...Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("register %s: %w", id, ErrDuplicateSession)
	}
	r.entries[id] = &Entry{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Handle:    handle,
		StartedAt: time.Now().UTC(),
		Status:    StatusActive,
		cleanup:   cleanup,
	}
	return nil
}

// Rekey atomically moves a session to a new id. Used when the true id is
// only learned after the work has started, e.g. from the first event of a
// query stream.
func (r *Registry) Rekey(oldID, newID string) error {
	if oldID == newID {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[oldID]
	if !ok {
		return fmt.Errorf("rekey %s: %w", oldID, ErrSessionNotFound)
	}
	if _, taken := r.entries[newID]; taken {
		return fmt.Errorf("rekey %s -> %s: %w", oldID, newID, ErrDuplicateSession)
	}

	delete(r.entries, oldID)
	entry.ID = newID
	r.entries[newID] = entry
	return nil
}

// Lookup returns a snapshot of the session, if present.
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Abort interrupts an active session, releases its resources, and removes
// it. Returns false when the id is unknown: aborting an already-finished
// session is a normal race, not a fault.
func (r *Registry) Abort(id string) bool {
	entry := r.take(id)
	if entry == nil {
		return false
	}
	entry.Status = StatusAborted

	if entry.Handle != nil {
		if err := entry.Handle.Interrupt(); err != nil {
			r.logger.Warn("session interrupt failed",
				"session_id", id, "kind", entry.Kind, "error", err)
		}
	}
	r.release(entry)

	r.logger.Info("session aborted", "session_id", id, "kind", entry.Kind)
	return true
}

// Complete finishes a session from its owner's side, releasing resources
// and removing the entry. Completing an already-removed session is a
// no-op, so a Complete racing an Abort cleans up exactly once.
func (r *Registry) Complete(id string, status Status) {
	entry := r.take(id)
	if entry == nil {
		return
	}
	entry.Status = status
	r.release(entry)
}

// ListActive returns the ids of active sessions, optionally filtered by
// kind. Ids come back sorted for stable diagnostics output.
func (r *Registry) ListActive(kinds ...Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.entries))
	for id, entry := range r.entries {
		if len(kinds) > 0 && !kindMatches(entry.Kind, kinds) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasActive reports whether any session for the user is active. The idle
// eviction sweep consults this before removing a container.
func (r *Registry) HasActive(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries {
		if entry.UserID == userID {
			return true
		}
	}
	return false
}

// take removes and returns the entry, or nil if absent. Removal under the
// lock is what guarantees exactly-once cleanup between racing Abort and
// Complete callers.
func (r *Registry) take(id string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil
	}
	delete(r.entries, id)
	return entry
}

// release disposes the entry's resources. Failures are logged, never
// propagated: a missing temp file must not block session removal.
func (r *Registry) release(entry *Entry) {
	for _, res := range entry.cleanup {
		if err := res.Release(); err != nil {
			r.logger.Warn("session cleanup failed",
				"session_id", entry.ID, "error", err)
		}
	}
}

func kindMatches(k Kind, kinds []Kind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

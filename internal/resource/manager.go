// Package resource implements the ResourceManager: centralized,
// thread-safe lifecycle tracking for anything that needs explicit
// cleanup (file handles, widgets, pooled buffers, GL handles, cached
// images), with deterministic group-ordered teardown.
package resource

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/auroraframe/screensaver/internal/errs"
	"github.com/auroraframe/screensaver/internal/logx"
)

// Cleaner is the duck-typed cleanup contract a registered resource may
// implement directly, analogous to the original's CleanupProtocol.
type Cleaner interface {
	Cleanup() error
}

type cleanupEntry struct {
	handler func() error
}

// Manager is the centralized resource tracker. The zero value is not
// usable; construct with New.
type Manager struct {
	mu              sync.Mutex
	resources       map[string]*Info
	strongRefs      map[string]any
	cleanupHandlers map[string]cleanupEntry
	shutdown        atomic.Bool
	log             *logx.Logger

	poolsMu sync.Mutex
	pools   map[poolKey]*Pool
}

// New constructs an empty Manager.
func New(log *logx.Logger) *Manager {
	if log == nil {
		log = logx.New("resource")
	}
	m := &Manager{
		resources:       make(map[string]*Info),
		strongRefs:      make(map[string]any),
		cleanupHandlers: make(map[string]cleanupEntry),
		pools:           make(map[poolKey]*Pool),
		log:             log.Named("resource-manager"),
	}
	m.log.Info("resource manager initialized")
	return m
}

// RegisterOptions carries the optional arguments to Register.
type RegisterOptions struct {
	Description    string
	CleanupHandler func(resource any) error
	Metadata       map[string]any
}

// Register tracks resource for managed cleanup and returns its unique
// ID. The resource is held with a strong reference by the manager until
// Unregister or CleanupAll releases it — this module approximates the
// original's weak-reference-plus-GC-finalizer design with an explicit
// ownership model, since Go gives no ergonomic way to observe garbage
// collection of an arbitrary interface value the way Python's weakref
// does; callers that want early release call Unregister explicitly.
func (m *Manager) Register(resource any, rt Type, opts RegisterOptions) (string, error) {
	if resource == nil {
		return "", errs.Wrap(errs.InvalidArgument, "cannot register nil resource")
	}
	if m.shutdown.Load() {
		return "", errs.Wrap(errs.ShuttingDown, "cannot register after shutdown")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := rt.String() + "_" + uuid.New().String()[:8]
	info := newInfo(id, rt, opts.Description, opts.Metadata)
	m.resources[id] = info
	m.strongRefs[id] = resource

	switch {
	case opts.CleanupHandler != nil:
		m.cleanupHandlers[id] = cleanupEntry{handler: func() error { return opts.CleanupHandler(resource) }}
	default:
		if c, ok := resource.(Cleaner); ok {
			m.cleanupHandlers[id] = cleanupEntry{handler: c.Cleanup}
		}
	}

	info.incrementRef()
	m.log.Debug("registered resource", logx.String("id", id), logx.String("description", opts.Description))
	return id, nil
}

// RegisterQt registers a widget-like resource whose cleanup should
// prefer a graceful teardown hook (DeleteLater) and fall back to a
// direct Close, matching the original register_qt's exact precedence.
type QtLike interface {
	DeleteLater()
}

type CloseLike interface {
	Close() error
}

func (m *Manager) RegisterQt(widget any, description string, metadata map[string]any) (string, error) {
	cleanup := func(w any) error {
		if dl, ok := w.(QtLike); ok {
			dl.DeleteLater()
			return nil
		}
		if c, ok := w.(CloseLike); ok {
			return c.Close()
		}
		return nil
	}
	return m.Register(widget, GUIComponent, RegisterOptions{
		Description:    description,
		CleanupHandler: cleanup,
		Metadata:       metadata,
	})
}

// Get returns the registered resource for id, or nil if unknown.
func (m *Manager) Get(id string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.strongRefs[id]
	if !ok {
		return nil
	}
	if info, ok := m.resources[id]; ok {
		info.touch()
	}
	return r
}

// IncrementReferenceCount records an additional borrower of an
// already-registered resource, so a subsequent Unregister without force
// fails with InUse until every borrower has called
// DecrementReferenceCount. It is a no-op for an unknown id.
func (m *Manager) IncrementReferenceCount(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.resources[id]; ok {
		info.incrementRef()
	}
}

// DecrementReferenceCount gives back a reference taken by
// IncrementReferenceCount. It is a no-op for an unknown id or one already
// at zero.
func (m *Manager) DecrementReferenceCount(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.resources[id]; ok {
		info.decrementRef()
	}
}

// Unregister removes and cleans up a resource. If force is false and
// the resource's reference count exceeds 1 (every resource starts at 1
// on registration; additional borrows push it higher), Unregister
// returns errs.InUse instead of tearing the resource down.
func (m *Manager) Unregister(id string, force bool) error {
	m.mu.Lock()
	info, ok := m.resources[id]
	if !ok {
		m.mu.Unlock()
		return errs.Wrap(errs.InvalidArgument, "unknown resource id "+id)
	}
	if !force && info.ReferenceCount() > 1 {
		m.mu.Unlock()
		return errs.Wrap(errs.InUse, "resource "+id+" has active references")
	}
	entry, hasCleanup := m.cleanupHandlers[id]
	delete(m.cleanupHandlers, id)
	delete(m.resources, id)
	delete(m.strongRefs, id)
	m.mu.Unlock()

	if hasCleanup {
		if err := entry.handler(); err != nil {
			m.log.Error("cleanup failed", logx.String("id", id), logx.Err(err))
			return errs.Wrap(errs.ResourceCleanupFailure, "cleanup failed for "+id+": "+err.Error())
		}
	}
	m.log.Debug("unregistered resource", logx.String("id", id))
	return nil
}

// AllResources returns a snapshot of every currently tracked resource.
func (m *Manager) AllResources() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.resources))
	for _, info := range m.resources {
		out = append(out, info.Snapshot())
	}
	return out
}

// CleanupAll deterministically tears down every registered resource in
// group order (qt, network, cache, filesystem, other), continuing
// past any individual failure and collecting them into a single
// ResourceCleanupFailure rather than aborting the walk. It is
// idempotent: a second call is a no-op.
func (m *Manager) CleanupAll() error {
	if !m.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	m.log.Info("cleaning up all resources")

	m.mu.Lock()
	groups := make(map[string][]string, len(cleanupOrder))
	for id, info := range m.resources {
		g := info.Group()
		groups[g] = append(groups[g], id)
	}
	m.mu.Unlock()

	var failures []error
	for _, group := range cleanupOrder {
		for _, id := range groups[group] {
			if err := m.Unregister(id, true); err != nil {
				m.log.Error("error cleaning up resource", logx.String("id", id), logx.Err(err))
				failures = append(failures, err)
			}
		}
	}

	m.log.Info("resource cleanup complete", logx.Int("failures", len(failures)))
	if len(failures) > 0 {
		return errs.Wrap(errs.ResourceCleanupFailure, firstErrMessage(failures))
	}
	return nil
}

func firstErrMessage(errors []error) string {
	if len(errors) == 0 {
		return ""
	}
	msg := errors[0].Error()
	if len(errors) > 1 {
		msg += " (+more)"
	}
	return msg
}

// Stats summarizes the currently tracked resource population.
type Stats struct {
	TotalResources int
	ByType         map[string]int
	ByGroup        map[string]int
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{ByType: make(map[string]int), ByGroup: make(map[string]int)}
	for _, info := range m.resources {
		stats.TotalResources++
		stats.ByType[info.ResourceType.String()]++
		stats.ByGroup[info.Group()]++
	}
	return stats
}

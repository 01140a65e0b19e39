package resource

import (
	"sync/atomic"
	"time"
)

// Type enumerates the kinds of resources the manager tracks.
type Type int

const (
	Unknown Type = iota
	FileHandle
	NetworkConnection
	GUIComponent
	Thread
	Timer
	Window
	ThreadPool
	ImageCache
	TempImage
	NetworkRequest
	NativeGLHandle // added beyond the original Python enum per the data model
	Custom
)

func (t Type) String() string {
	switch t {
	case FileHandle:
		return "file_handle"
	case NetworkConnection:
		return "network_connection"
	case GUIComponent:
		return "gui_component"
	case Thread:
		return "thread"
	case Timer:
		return "timer"
	case Window:
		return "window"
	case ThreadPool:
		return "thread_pool"
	case ImageCache:
		return "image_cache"
	case TempImage:
		return "temp_image"
	case NetworkRequest:
		return "network_request"
	case NativeGLHandle:
		return "native_gl_handle"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// group derives the deterministic cleanup bucket a resource type
// belongs to. This mapping is load-bearing: CleanupAll walks groups in
// a fixed order so that, e.g., GUI widgets always tear down before
// network connections regardless of registration order.
func (t Type) group() string {
	switch t {
	case GUIComponent, Timer, Window:
		return "qt"
	case NetworkConnection, NetworkRequest:
		return "network"
	case FileHandle:
		return "filesystem"
	case ImageCache, TempImage:
		return "cache"
	default:
		return "other"
	}
}

// cleanupOrder is the fixed walk order CleanupAll uses across groups.
// NativeGLHandle falls into "other" rather than a dedicated "gl" group,
// keeping the set closed at qt/network/cache/filesystem/other.
var cleanupOrder = []string{"qt", "network", "cache", "filesystem", "other"}

// Info is the bookkeeping record the manager keeps for every registered
// resource. A resource's own value is never stored directly by Info;
// the manager holds it in a separate strong-reference table until
// Unregister or CleanupAll releases it.
type Info struct {
	ID          string
	ResourceType Type
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
	lastTouch   atomic.Int64 // unix nanos
	refCount    atomic.Int64
}

func newInfo(id string, rt Type, desc string, meta map[string]any) *Info {
	info := &Info{
		ID:           id,
		ResourceType: rt,
		Description:  desc,
		Metadata:     meta,
		CreatedAt:    time.Now(),
	}
	info.lastTouch.Store(info.CreatedAt.UnixNano())
	return info
}

func (i *Info) touch() {
	i.lastTouch.Store(time.Now().UnixNano())
}

// Group returns the deterministic cleanup bucket this resource belongs
// to, derived purely from its resource type.
func (i *Info) Group() string { return i.ResourceType.group() }

// ReferenceCount returns the current reference count. Every successful
// Register call starts a resource's count at 1 (the manager's own
// bookkeeping reference), matching the original's
// increment_reference_count-on-register invariant; Unregister therefore
// treats count > 1, not > 0, as "in use".
func (i *Info) ReferenceCount() int64 { return i.refCount.Load() }

func (i *Info) incrementRef() int64 { return i.refCount.Add(1) }

func (i *Info) decrementRef() int64 {
	for {
		cur := i.refCount.Load()
		if cur <= 0 {
			return 0
		}
		if i.refCount.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// Snapshot is a serializable copy of an Info record for stats/export.
type Snapshot struct {
	ID              string
	ResourceType    string
	Group           string
	Description     string
	ReferenceCount  int64
	CreatedAt       time.Time
}

func (i *Info) Snapshot() Snapshot {
	return Snapshot{
		ID:             i.ID,
		ResourceType:   i.ResourceType.String(),
		Group:          i.Group(),
		Description:    i.Description,
		ReferenceCount: i.ReferenceCount(),
		CreatedAt:      i.CreatedAt,
	}
}

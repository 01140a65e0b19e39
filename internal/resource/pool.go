package resource

import "sync"

// poolBucket distinguishes the two named object pools the spec requires
// (pixmap: presentable, post-scale surfaces; image: decoded source
// surfaces) from the generic buffer pool other callers (e.g. the FFT
// worker's scratch bins) key purely by dimensions and element size.
type poolBucket int

const (
	bucketGeneric poolBucket = iota
	bucketPixmap
	bucketImage
)

// poolKey identifies an object pool by bucket and the dimensions of the
// buffers it hands out.
type poolKey struct {
	bucket        poolBucket
	width, height int
}

// namedPoolMaxFree is the canonical per-pool cap for the pixmap and image
// buckets (spec: 8).
const namedPoolMaxFree = 8

// rgbaBytesLen is the byte length of an RGBA8 width x height surface.
func rgbaBytesLen(width, height int) int { return width * height * 4 }

// Pool is a bounded pool of fixed-size byte buffers keyed by
// (width, height), used to avoid re-allocating per-frame RGBA/FFT
// scratch buffers across the Image and FFT workers.
type Pool struct {
	mu       sync.Mutex
	width    int
	height   int
	bytesLen int
	free     [][]byte
	maxFree  int

	hits   int64
	misses int64
	fills  int64
}

func newPool(width, height, bytesLen, maxFree int) *Pool {
	return &Pool{width: width, height: height, bytesLen: bytesLen, maxFree: maxFree}
}

// PoolFor returns (creating if necessary) the generic object pool for the
// given dimensions and element size, capped at maxFree idle buffers.
func (m *Manager) PoolFor(width, height, bytesLen, maxFree int) *Pool {
	return m.poolFor(poolKey{bucket: bucketGeneric, width: width, height: height}, bytesLen, maxFree)
}

// AcquirePixmap returns a buffer from the pixmap bucket — the pool of
// post-scale, presentable surfaces — at (width, height), or (nil, false)
// on a miss. Acquire never allocates: a miss means the caller must build
// its own surface of the exact requested size.
func (m *Manager) AcquirePixmap(width, height int) ([]byte, bool) {
	return m.poolFor(poolKey{bucket: bucketPixmap, width: width, height: height}, rgbaBytesLen(width, height), namedPoolMaxFree).Acquire()
}

// ReleasePixmap returns buf to the pixmap bucket at (width, height),
// reporting true when accepted and false when the bucket is full or buf
// is the wrong size for that bucket.
func (m *Manager) ReleasePixmap(width, height int, buf []byte) bool {
	return m.poolFor(poolKey{bucket: bucketPixmap, width: width, height: height}, rgbaBytesLen(width, height), namedPoolMaxFree).Release(buf)
}

// AcquireImage returns a buffer from the image bucket — the pool of
// decoded source surfaces — at (width, height), or (nil, false) on a
// miss.
func (m *Manager) AcquireImage(width, height int) ([]byte, bool) {
	return m.poolFor(poolKey{bucket: bucketImage, width: width, height: height}, rgbaBytesLen(width, height), namedPoolMaxFree).Acquire()
}

// ReleaseImage returns buf to the image bucket at (width, height),
// reporting true when accepted and false when the bucket is full or buf
// is the wrong size for that bucket.
func (m *Manager) ReleaseImage(width, height int, buf []byte) bool {
	return m.poolFor(poolKey{bucket: bucketImage, width: width, height: height}, rgbaBytesLen(width, height), namedPoolMaxFree).Release(buf)
}

func (m *Manager) poolFor(key poolKey, bytesLen, maxFree int) *Pool {
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()
	p, ok := m.pools[key]
	if !ok {
		p = newPool(key.width, key.height, bytesLen, maxFree)
		m.pools[key] = p
	}
	return p
}

// Acquire returns a buffer from the pool's free list, or (nil, false) on
// a miss. Acquire never allocates — a surface of the exact requested
// size, or nothing, matching the original acquire_pixmap/acquire_image.
func (p *Pool) Acquire() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		p.misses++
		return nil, false
	}
	buf := p.free[n-1]
	p.free = p.free[:n-1]
	p.hits++
	return buf, true
}

// Release returns buf to the pool, reporting true when accepted. It
// reports false, and drops buf, when buf is the wrong size for this pool
// or the pool's free list is already at its cap, so the pool never grows
// unbounded.
func (p *Pool) Release(buf []byte) bool {
	if len(buf) != p.bytesLen {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= p.maxFree {
		return false
	}
	p.free = append(p.free, buf)
	p.fills++
	return true
}

// PoolStats summarizes hit/miss/fill counters for one object pool.
type PoolStats struct {
	Width, Height int
	Hits, Misses  int64
	Fills         int64
	Idle          int
}

// Stats returns a snapshot of this pool's counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Width: p.width, Height: p.height,
		Hits: p.hits, Misses: p.misses, Fills: p.fills,
		Idle: len(p.free),
	}
}

// Package shm provides native memory-mapped shared memory regions used
// to hand large payloads (decoded image frames, FFT spectra) between
// the host process and a worker process without copying them through
// the request/response queues.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"unsafe"
)

var (
	ErrOutOfBounds = errors.New("shm: access out of bounds")
	ErrMisaligned  = errors.New("shm: unaligned atomic access")
)

// Region is a memory-mapped file shared between the host and a worker
// process. Both sides open the same path; the creator truncates it to
// the desired size before mapping.
type Region struct {
	path string
	file *os.File
	data []byte
	size uint32
}

// Options configures the creation or opening of a Region.
type Options struct {
	Path   string
	Size   uint32
	Create bool
}

// DefaultPath returns a fixed path under /dev/shm, falling back to the
// OS temp dir when /dev/shm is unavailable (e.g. non-Linux hosts),
// suffixed with name so each worker kind gets its own region. The path
// depends only on name, not on the calling process.
func DefaultPath(name string) string {
	base := "screensaver_shm_" + name
	if _, err := os.Stat("/dev/shm"); err == nil {
		return filepath.Join("/dev/shm", base)
	}
	return filepath.Join(os.TempDir(), base)
}

// Open maps a new or existing shared memory region.
func Open(opts Options) (*Region, error) {
	if opts.Path == "" {
		return nil, errors.New("shm: path required")
	}

	path := filepath.Clean(opts.Path)
	flags := os.O_RDWR
	if opts.Create {
		flags |= os.O_CREATE
	}

	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: open %q: %w", path, err)
	}

	if opts.Create {
		if opts.Size == 0 {
			_ = file.Close()
			return nil, errors.New("shm: size required when creating")
		}
		if err := file.Truncate(int64(opts.Size)); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("shm: truncate %q: %w", path, err)
		}
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("shm: stat %q: %w", path, err)
	}
	if info.Size() == 0 {
		_ = file.Close()
		return nil, fmt.Errorf("shm: %q has zero size", path)
	}
	size := uint32(info.Size())

	data, err := syscall.Mmap(int(file.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("shm: mmap %q: %w", path, err)
	}

	return &Region{path: path, file: file, data: data, size: size}, nil
}

// Path returns the filesystem path backing this region.
func (r *Region) Path() string { return r.path }

// Size returns the mapped region's byte length.
func (r *Region) Size() uint32 { return r.size }

// ReadAt copies len(dest) bytes starting at offset into dest.
func (r *Region) ReadAt(offset uint32, dest []byte) error {
	if offset+uint32(len(dest)) > r.size {
		return ErrOutOfBounds
	}
	copy(dest, r.data[offset:offset+uint32(len(dest))])
	return nil
}

// WriteAt copies src into the region starting at offset.
func (r *Region) WriteAt(offset uint32, src []byte) error {
	if offset+uint32(len(src)) > r.size {
		return ErrOutOfBounds
	}
	copy(r.data[offset:offset+uint32(len(src))], src)
	return nil
}

// AtomicLoad32 atomically reads a uint32 at a 4-byte-aligned offset,
// used to read generation counters and validity flags a producer writes
// with AtomicStore32.
func (r *Region) AtomicLoad32(offset uint32) (uint32, error) {
	ptr, err := r.ptrAt(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(ptr)), nil
}

// AtomicStore32 atomically stores a uint32 at a 4-byte-aligned offset.
func (r *Region) AtomicStore32(offset uint32, val uint32) error {
	ptr, err := r.ptrAt(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(ptr), val)
	return nil
}

// AtomicAddUint32 atomically increments the uint32 at offset (used for
// the generation counter on every publish) and returns the new value.
func (r *Region) AtomicAddUint32(offset uint32, delta uint32) (uint32, error) {
	ptr, err := r.ptrAt(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint32((*uint32)(ptr), delta), nil
}

// Close unmaps the region and closes the backing file descriptor. It
// does not remove the file; the creator is responsible for os.Remove
// once every participant has closed.
func (r *Region) Close() error {
	var err error
	if r.data != nil {
		if unmapErr := syscall.Munmap(r.data); unmapErr != nil {
			err = unmapErr
		}
		r.data = nil
	}
	if r.file != nil {
		if closeErr := r.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		r.file = nil
	}
	return err
}

func (r *Region) ptrAt(offset uint32) (unsafe.Pointer, error) {
	if offset+4 > r.size {
		return nil, ErrOutOfBounds
	}
	if offset%4 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&r.data[offset]), nil
}

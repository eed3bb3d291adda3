// Package pmem is a named, shared-memory-backed blob allocator: create or
// attach a fixed-size region under /dev/shm by name, remembered by name so
// a later Free can unmap and unlink it. Go has no shm_open wrapper, so
// POSIX shared memory objects are addressed directly by their /dev/shm
// path, which is how glibc's shm_open implements them on Linux anyway.
package pmem

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/odmpf/odmpfd/internal/logging"
)

type blob struct {
	name string
	mem  []byte
}

var (
	mu    sync.Mutex
	blobs = map[string]*blob{}
)

func shmPath(name string) string {
	return "/dev/shm/" + name
}

// Alloc creates or attaches the named shared-memory region, truncated (or
// extended) to size, and maps it read/write shared. Repeated Alloc calls
// for the same name return the existing mapping.
func Alloc(name string, size int) ([]byte, error) {
	mu.Lock()
	defer mu.Unlock()

	if b, ok := blobs[name]; ok {
		return b.mem, nil
	}

	fd, err := unix.Open(shmPath(name), unix.O_CREAT|unix.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("pmem: open %s: %w", name, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("pmem: truncate %s: %w", name, err)
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("pmem: mmap %s: %w", name, err)
	}

	blobs[name] = &blob{name: name, mem: mem}
	logging.Write("pmem", logging.LevelDebug, "allocated shared memory %s (%d bytes)", name, size)
	return mem, nil
}

// Free unmaps and unlinks the named region.
func Free(name string) error {
	mu.Lock()
	defer mu.Unlock()

	b, ok := blobs[name]
	if !ok {
		return fmt.Errorf("pmem: %s not allocated", name)
	}

	err := unix.Munmap(b.mem)
	delete(blobs, name)

	if rmErr := unix.Unlink(shmPath(name)); rmErr != nil && err == nil {
		err = fmt.Errorf("pmem: unlink %s: %w", name, rmErr)
	}
	return err
}

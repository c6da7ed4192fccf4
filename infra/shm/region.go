// Package shm is the shared-memory channel set: named byte regions
// under /dev/shm plus the two publication protocols layered on them,
// latest-wins seqlock slots and a bounded SPSC trade ring.
//
// Exactly one producer writes each region; any number of readers may
// attach and must treat the mapping as read-only.
package shm

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm"

// ErrTooSmall is returned when a mapped region cannot hold the
// requested layout.
var ErrTooSmall = errors.New("shm: region too small")

// Region is one named shared-memory mapping. Names follow the POSIX
// convention of a single leading slash ("/hft_trades").
type Region struct {
	name string
	data []byte
}

func regionPath(name string) string {
	return filepath.Join(shmDir, strings.TrimPrefix(name, "/"))
}

// Create makes (or reuses) the named region, sizes it, maps it
// read-write and zeroes the mapping so readers never observe a stale
// header from a previous run.
func Create(name string, size int) (*Region, error) {
	fd, err := unix.Open(regionPath(name), unix.O_CREAT|unix.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		_ = Unlink(name)
		return nil, fmt.Errorf("shm: size %s: %w", name, err)
	}
	data, err := mapFd(fd, size)
	if err != nil {
		_ = Unlink(name)
		return nil, fmt.Errorf("shm: map %s: %w", name, err)
	}
	for i := range data {
		data[i] = 0
	}
	return &Region{name: name, data: data}, nil
}

// Open attaches to an existing region. The mapping is read-write at
// the OS level; the single-producer contract is the caller's.
func Open(name string, size int) (*Region, error) {
	fd, err := unix.Open(regionPath(name), unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", name, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: stat %s: %w", name, err)
	}
	if st.Size < int64(size) {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: open %s: %w", name, ErrTooSmall)
	}
	data, err := mapFd(fd, size)
	if err != nil {
		return nil, fmt.Errorf("shm: map %s: %w", name, err)
	}
	return &Region{name: name, data: data}, nil
}

func mapFd(fd, size int) ([]byte, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	// The mapping keeps the region alive; the descriptor is not needed
	// after mmap either way.
	unix.Close(fd)
	return data, err
}

// Name returns the region's POSIX name.
func (r *Region) Name() string { return r.name }

// Bytes exposes the raw mapping.
func (r *Region) Bytes() []byte { return r.data }

// Close unmaps the region. The name stays valid for other processes
// until Unlink.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// Unlink removes the name so no new opens succeed. Existing mappings
// stay valid until closed.
func Unlink(name string) error {
	return unix.Unlink(regionPath(name))
}

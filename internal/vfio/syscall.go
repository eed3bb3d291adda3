package vfio

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// sysOps abstracts the raw syscalls Container and Device issue against
// /dev/vfio, so tests can substitute a fake and exercise refcounting,
// rewind-on-error, and vector-arming logic without real hardware. The
// production path always uses realSys; Fake (fake.go) is the in-memory
// substitute, mirroring the odmreg.Region/odmreg.Fake split.
type sysOps interface {
	Open(path string) (int, error)
	Close(fd int) error
	IoctlPtr(fd int, req uintptr, arg unsafe.Pointer) error
	IoctlInt(fd int, req uintptr, arg int) error
	IoctlNoArg(fd int, req uintptr) error
	IoctlStr(fd int, req uintptr, name string) (int, error)
	Mmap(fd int, offset int64, length int, prot int) ([]byte, error)
	Munmap(b []byte) error
	Eventfd() (int, error)
}

// realSys issues the real ioctls/syscalls via golang.org/x/sys/unix.
type realSys struct{}

func (realSys) Open(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR, 0)
}

func (realSys) Close(fd int) error { return unix.Close(fd) }

// IoctlPtr issues an ioctl whose argument is a pointer to a fixed struct.
func (realSys) IoctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// IoctlInt issues an ioctl whose argument is passed by value, not pointer
// (VFIO_SET_IOMMU, VFIO_GROUP_SET_CONTAINER).
func (realSys) IoctlInt(fd int, req uintptr, arg int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// IoctlNoArg issues an ioctl that takes no argument (VFIO_DEVICE_RESET).
func (realSys) IoctlNoArg(fd int, req uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// IoctlStr issues VFIO_GROUP_GET_DEVICE_FD, whose argument is a NUL
// terminated device BDF string and whose return value (not errno) is the
// new device fd.
func (realSys) IoctlStr(fd int, req uintptr, name string) (int, error) {
	b := append([]byte(name), 0)
	r1, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(&b[0])))
	if errno != 0 {
		return -1, errno
	}
	return int(r1), nil
}

func (realSys) Mmap(fd int, offset int64, length int, prot int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, prot, unix.MAP_SHARED)
}

func (realSys) Munmap(b []byte) error { return unix.Munmap(b) }

func (realSys) Eventfd() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

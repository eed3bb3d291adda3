package vfio

import (
	"fmt"
	"unsafe"
)

// Fake is an in-memory sysOps for tests that don't need a real VFIO
// device: no /dev/vfio, no real ioctls, no hardware mmap. It mirrors
// odmreg.Fake's role for register access, but for the container/group/
// device ioctl surface.
type Fake struct {
	nextFD int32

	GroupViable  bool // VFIO_GROUP_GET_STATUS reports the group viable
	NumRegions   uint32
	Region0Size  uint64
	Region0Flags uint32
	IRQCount     uint32
	IRQFlags     uint32

	FailOpen          error
	FailGroupStatus   error
	FailSetContainer  error
	FailSetIOMMU      error
	FailGetDeviceFD   error
	FailGetDeviceInfo error
	FailGetRegionInfo error
	FailMmap          error
	FailSetIRQs       error
	FailEventfd       error

	// ClosedFDs records every fd passed to Close, in order, so rewind
	// tests can assert what got torn down and in what order.
	ClosedFDs []int
}

// NewFake returns a Fake simulating one viable IOMMU group and a device
// with numRegions regions (region 0 sized region0Size, eventfd-capable
// and mmap-capable) and irqCount MSI-X vectors.
func NewFake(numRegions uint32, region0Size uint64, irqCount uint32) *Fake {
	return &Fake{
		GroupViable:  true,
		NumRegions:   numRegions,
		Region0Size:  region0Size,
		Region0Flags: RegionInfoFlagRead | RegionInfoFlagWrite | RegionInfoFlagMmap,
		IRQCount:     irqCount,
		IRQFlags:     IRQInfoEventfd,
	}
}

func (f *Fake) allocFD() int {
	f.nextFD++
	return int(f.nextFD)
}

func (f *Fake) Open(path string) (int, error) {
	if f.FailOpen != nil {
		return -1, f.FailOpen
	}
	return f.allocFD(), nil
}

func (f *Fake) Close(fd int) error {
	f.ClosedFDs = append(f.ClosedFDs, fd)
	return nil
}

func (f *Fake) IoctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	switch req {
	case iocGroupGetStatus:
		if f.FailGroupStatus != nil {
			return f.FailGroupStatus
		}
		s := (*GroupStatus)(arg)
		s.Flags = 0
		if f.GroupViable {
			s.Flags |= GroupFlagsViable
		}
		return nil
	case iocDeviceGetInfo:
		if f.FailGetDeviceInfo != nil {
			return f.FailGetDeviceInfo
		}
		(*DeviceInfo)(arg).NumRegions = f.NumRegions
		return nil
	case iocDeviceGetRegionInfo:
		if f.FailGetRegionInfo != nil {
			return f.FailGetRegionInfo
		}
		r := (*RegionInfo)(arg)
		if r.Index == 0 {
			r.Size = f.Region0Size
			r.Flags = f.Region0Flags
		}
		return nil
	case iocDeviceGetIRQInfo:
		info := (*IRQInfo)(arg)
		info.Count = f.IRQCount
		info.Flags = f.IRQFlags
		return nil
	case iocDeviceSetIRQs:
		return f.FailSetIRQs
	default:
		return fmt.Errorf("vfio: fake: unhandled ioctl %#x", req)
	}
}

func (f *Fake) IoctlInt(fd int, req uintptr, arg int) error {
	switch req {
	case iocGroupSetContainer:
		return f.FailSetContainer
	case iocSetIOMMU:
		return f.FailSetIOMMU
	default:
		return fmt.Errorf("vfio: fake: unhandled ioctl %#x", req)
	}
}

func (f *Fake) IoctlNoArg(fd int, req uintptr) error { return nil }

func (f *Fake) IoctlStr(fd int, req uintptr, name string) (int, error) {
	if f.FailGetDeviceFD != nil {
		return -1, f.FailGetDeviceFD
	}
	return f.allocFD(), nil
}

func (f *Fake) Mmap(fd int, offset int64, length int, prot int) ([]byte, error) {
	if f.FailMmap != nil {
		return nil, f.FailMmap
	}
	return make([]byte, length), nil
}

func (f *Fake) Munmap(b []byte) error { return nil }

func (f *Fake) Eventfd() (int, error) {
	if f.FailEventfd != nil {
		return -1, f.FailEventfd
	}
	return f.allocFD(), nil
}

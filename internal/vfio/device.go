package vfio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/odmpf/odmpfd/internal/logging"
)

// MaxRegionIndex caps region enumeration at index 5 (six regions, 0..5)
// even if the kernel reports more; carried over from vfio_pci_device_info.
const MaxRegionIndex = 5

// RegionMap is one enumerated and, for region 0, mapped device region.
type RegionMap struct {
	Index  uint32
	Offset uint64
	Size   uint64
	Flags  uint32
	mem    []byte // non-nil only for the mmap'd BAR0
}

// Bytes returns the mmap'd bytes backing this region, or nil if it was
// never mapped.
func (r *RegionMap) Bytes() []byte { return r.mem }

// Device is a VFIO-bound PCI device opened through a joined IOMMU group.
type Device struct {
	name     string
	groupNum uint
	c        *Container
	sys      sysOps
	fd       int
	regions  []RegionMap
	msix     *msixState
}

// Setup opens the device named by its PCI BDF (e.g. "0000:01:00.0") via
// the group c already joined or will join, enumerates its regions, and
// mmaps region 0 (BAR 0). On any failure already-acquired resources are
// unwound before returning.
func Setup(c *Container, bdf string) (*Device, error) {
	groupNum, err := GroupNumFromSysfs(bdf)
	if err != nil {
		return nil, err
	}
	return setupDevice(c, bdf, groupNum)
}

// setupDevice is Setup with the IOMMU group number already resolved, so
// tests can drive the join/enumerate/mmap/rewind sequence against a Fake
// sysOps without touching /sys/bus/pci.
func setupDevice(c *Container, bdf string, groupNum uint) (dev *Device, err error) {
	groupFd, err := c.JoinGroup(groupNum)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			c.LeaveGroup(groupNum)
		}
	}()

	deviceFd, err := c.sys.IoctlStr(groupFd, iocGroupGetDeviceFD, bdf)
	if err != nil {
		return nil, fmt.Errorf("vfio: VFIO_GROUP_GET_DEVICE_FD %s: %w", bdf, err)
	}
	defer func() {
		if err != nil {
			c.sys.Close(deviceFd)
		}
	}()

	info := DeviceInfo{ArgSz: uint32(unsafe.Sizeof(DeviceInfo{}))}
	if err = c.sys.IoctlPtr(deviceFd, iocDeviceGetInfo, unsafe.Pointer(&info)); err != nil {
		return nil, fmt.Errorf("vfio: VFIO_DEVICE_GET_INFO: %w", err)
	}

	numRegions := info.NumRegions
	if numRegions > MaxRegionIndex+1 {
		numRegions = MaxRegionIndex + 1
	}

	regions := make([]RegionMap, 0, numRegions)
	for i := uint32(0); i < numRegions; i++ {
		reg := RegionInfo{ArgSz: uint32(unsafe.Sizeof(RegionInfo{})), Index: i}
		if err = c.sys.IoctlPtr(deviceFd, iocDeviceGetRegionInfo, unsafe.Pointer(&reg)); err != nil {
			return nil, fmt.Errorf("vfio: VFIO_DEVICE_GET_REGION_INFO index %d: %w", i, err)
		}
		rm := RegionMap{Index: i, Offset: reg.Offset, Size: reg.Size, Flags: reg.Flags}
		regions = append(regions, rm)
	}

	defer func() {
		if err != nil {
			for i := range regions {
				if regions[i].mem != nil {
					c.sys.Munmap(regions[i].mem)
				}
			}
		}
	}()

	if len(regions) > 0 && regions[0].Size > 0 && regions[0].Flags&RegionInfoFlagMmap != 0 {
		prot := unix.PROT_READ
		if regions[0].Flags&RegionInfoFlagWrite != 0 {
			prot |= unix.PROT_WRITE
		}
		mem, mmapErr := c.sys.Mmap(deviceFd, int64(regions[0].Offset), int(regions[0].Size), prot)
		if mmapErr != nil {
			err = fmt.Errorf("vfio: mmap BAR0: %w", mmapErr)
			return nil, err
		}
		regions[0].mem = mem
	} else {
		logging.Write("vfio", logging.LevelWarning, "BAR0 of %s is not mmap-capable", bdf)
	}

	return &Device{
		name:     bdf,
		groupNum: groupNum,
		c:        c,
		sys:      c.sys,
		fd:       deviceFd,
		regions:  regions,
	}, nil
}

// Region returns the enumerated region at index, or nil if out of range.
func (d *Device) Region(index int) *RegionMap {
	if index < 0 || index >= len(d.regions) {
		return nil
	}
	return &d.regions[index]
}

// FD returns the raw VFIO device fd, used by callers that need to issue
// additional ioctls this package doesn't wrap.
func (d *Device) FD() int { return d.fd }

// Close disables all MSI-X vectors, unmaps regions, closes the device fd,
// and leaves the IOMMU group, in that order.
func (d *Device) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if d.msix != nil {
		record(d.DisableAllVectors())
	}
	for i := range d.regions {
		if d.regions[i].mem != nil {
			record(d.sys.Munmap(d.regions[i].mem))
			d.regions[i].mem = nil
		}
	}
	record(d.sys.Close(d.fd))
	record(d.c.LeaveGroup(d.groupNum))
	return firstErr
}

// Reset issues VFIO_DEVICE_RESET.
func (d *Device) Reset() error {
	return d.sys.IoctlNoArg(d.fd, iocDeviceReset)
}

// Package vfio provides user-space bring-up of a VFIO-bound PCI device:
// container/group/device handles and MSI-X vector control via the kernel's
// VFIO ioctl interface. It is a Go-native rendering of vfio_pci.c, using
// golang.org/x/sys/unix in place of libc's ioctl/mmap wrappers.
package vfio

// ioctl number encoding, matching linux/ioctl.h's _IOC family. The uapi
// header defines every VFIO ioctl in the direction-less _IO form (no size
// bits), so each command below is built with io() to get the same number
// as <linux/vfio.h> without importing it directly.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNrShift) | (size << iocSizeShift)
}

func io(typ, nr uintptr) uintptr {
	return ioc(iocNone, typ, nr, 0)
}

func ior(typ, nr, size uintptr) uintptr {
	return ioc(iocRead, typ, nr, size)
}

func iowr(typ, nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, typ, nr, size)
}

// vfioType is the ioctl type byte used by every VFIO command, ';' in the
// uapi header.
const vfioType = ';'
const vfioBase = 100

// VFIO ioctl commands, in the order the uapi header assigns them starting
// from vfioBase.
var (
	iocGetAPIVersion   = io(vfioType, vfioBase+0)
	iocCheckExtension  = io(vfioType, vfioBase+1)
	iocSetIOMMU        = io(vfioType, vfioBase+2)
	iocGroupGetStatus  = io(vfioType, vfioBase+3)
	iocGroupSetContainer = io(vfioType, vfioBase+4)
	iocGroupUnsetContainer = io(vfioType, vfioBase+5)
	iocGroupGetDeviceFD = io(vfioType, vfioBase+6)
	iocDeviceGetInfo   = io(vfioType, vfioBase+7)
	iocDeviceGetRegionInfo = io(vfioType, vfioBase+8)
	iocDeviceGetIRQInfo = io(vfioType, vfioBase+9)
	iocDeviceSetIRQs   = io(vfioType, vfioBase+10)
	iocDeviceReset     = io(vfioType, vfioBase+11)
)

// IOMMU type for VFIO_SET_IOMMU.
const Type1IOMMU = 1

// Group status flags.
const (
	GroupFlagsViable       uint32 = 1 << 0
	GroupFlagsContainerSet uint32 = 1 << 1
)

// Device region/IRQ index selectors.
const (
	PCIMSIXIRQIndex = 5
)

// IRQ info flags.
const (
	IRQInfoEventfd   uint32 = 1 << 0
	IRQInfoMaskable  uint32 = 1 << 1
	IRQInfoAutomasked uint32 = 1 << 2
	IRQInfoNoResize  uint32 = 1 << 3
)

// IRQ set flags.
const (
	IRQSetDataNone      uint32 = 1 << 0
	IRQSetDataBool      uint32 = 1 << 1
	IRQSetDataEventfd   uint32 = 1 << 2
	IRQSetActionMask    uint32 = 1 << 3
	IRQSetActionUnmask  uint32 = 1 << 4
	IRQSetActionTrigger uint32 = 1 << 5
)

// Device region flags.
const (
	RegionInfoFlagRead  uint32 = 1 << 0
	RegionInfoFlagWrite uint32 = 1 << 1
	RegionInfoFlagMmap  uint32 = 1 << 2
)

// GroupStatus mirrors struct vfio_group_status.
type GroupStatus struct {
	ArgSz uint32
	Flags uint32
}

// DeviceInfo mirrors struct vfio_device_info.
type DeviceInfo struct {
	ArgSz   uint32
	Flags   uint32
	NumRegions uint32
	NumIRQs uint32
}

// RegionInfo mirrors struct vfio_region_info.
type RegionInfo struct {
	ArgSz   uint32
	Flags   uint32
	Index   uint32
	Cap     uint32
	Size    uint64
	Offset  uint64
}

// IRQInfo mirrors struct vfio_irq_info.
type IRQInfo struct {
	ArgSz uint32
	Flags uint32
	Index uint32
	Count uint32
}

// IRQSetHeader is the fixed portion of struct vfio_irq_set; callers append
// Count*4 (int32 eventfds) or Count*1 (bool) bytes of payload after it.
type IRQSetHeader struct {
	ArgSz uint32
	Flags uint32
	Index uint32
	Start uint32
	Count uint32
}

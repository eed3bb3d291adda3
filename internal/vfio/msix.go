package vfio

import (
	"fmt"
	"unsafe"

	"github.com/odmpf/odmpfd/internal/logging"
)

// msixState tracks the eventfds currently armed against the device's
// MSI-X vector table, so DisableAllVectors can commit one bulk ioctl.
type msixState struct {
	efds []int32 // -1 for an unarmed slot
}

// irqSetEventfds builds the variable-length vfio_irq_set payload: a fixed
// header followed by count int32 eventfds (or -1 to leave a slot unarmed),
// and issues VFIO_DEVICE_SET_IRQS in a single ioctl. Per vfio_pci_set_irqs,
// every call commits the whole eventfd array (start=0, count=len(efds)):
// the kernel replaces the entire MSI-X configuration atomically, so a
// sub-range commit would silently drop every vector outside it.
func irqSetEventfds(sys sysOps, fd int, efds []int32) error {
	count := uint32(len(efds))
	hdrSize := unsafe.Sizeof(IRQSetHeader{})
	buf := make([]byte, hdrSize+uintptr(count)*4)

	hdr := (*IRQSetHeader)(unsafe.Pointer(&buf[0]))
	*hdr = IRQSetHeader{
		ArgSz: uint32(len(buf)),
		Flags: IRQSetDataEventfd | IRQSetActionTrigger,
		Index: PCIMSIXIRQIndex,
		Start: 0,
		Count: count,
	}

	payload := buf[hdrSize:]
	for i := uint32(0); i < count; i++ {
		*(*int32)(unsafe.Pointer(&payload[i*4])) = efds[i]
	}

	return sys.IoctlPtr(fd, iocDeviceSetIRQs, unsafe.Pointer(&buf[0]))
}

// irqSetDisableAll issues the VFIO_DEVICE_SET_IRQS bulk-teardown shape:
// count=0, flags=DATA_NONE, no payload. Mirrors vfio_pci_disable_interrupts.
func irqSetDisableAll(sys sysOps, fd int) error {
	hdr := IRQSetHeader{
		ArgSz: uint32(unsafe.Sizeof(IRQSetHeader{})),
		Flags: IRQSetDataNone,
		Index: PCIMSIXIRQIndex,
		Start: 0,
		Count: 0,
	}
	return sys.IoctlPtr(fd, iocDeviceSetIRQs, unsafe.Pointer(&hdr))
}

// VectorCount queries VFIO_DEVICE_GET_IRQ_INFO and returns the number of
// MSI-X vectors the device exposes.
func (d *Device) VectorCount() (uint32, error) {
	info := IRQInfo{ArgSz: uint32(unsafe.Sizeof(IRQInfo{})), Index: PCIMSIXIRQIndex}
	if err := d.sys.IoctlPtr(d.fd, iocDeviceGetIRQInfo, unsafe.Pointer(&info)); err != nil {
		return 0, fmt.Errorf("vfio: VFIO_DEVICE_GET_IRQ_INFO: %w", err)
	}
	return info.Count, nil
}

// EnableVector queries VFIO_DEVICE_GET_IRQ_INFO for the MSI-X vector table,
// checks that vec is within range, eventfd-capable, and not already armed,
// creates an eventfd for it, and commits the whole eventfd table via a
// single VFIO_DEVICE_SET_IRQS. The returned eventfd must be registered
// with an irqdemux.Demux by the caller.
func (d *Device) EnableVector(vec uint32) (int, error) {
	info := IRQInfo{ArgSz: uint32(unsafe.Sizeof(IRQInfo{})), Index: PCIMSIXIRQIndex}
	if err := d.sys.IoctlPtr(d.fd, iocDeviceGetIRQInfo, unsafe.Pointer(&info)); err != nil {
		return -1, fmt.Errorf("vfio: VFIO_DEVICE_GET_IRQ_INFO: %w", err)
	}

	if vec >= info.Count {
		return -1, fmt.Errorf("vfio: vector %d out of range (count %d): %w", vec, info.Count, ErrVectorOutOfRange)
	}
	// original bug: `!irq_info.flags & VFIO_IRQ_INFO_EVENTFD` applies `!` to
	// flags alone before the mask, always evaluating false unless flags==0.
	// The corrected check masks first, negates second.
	if info.Flags&IRQInfoEventfd == 0 {
		return -1, fmt.Errorf("vfio: MSI-X vectors on %s are not eventfd-capable", d.name)
	}

	if d.msix == nil {
		d.msix = &msixState{efds: make([]int32, info.Count)}
		for i := range d.msix.efds {
			d.msix.efds[i] = -1
		}
	}
	if int(vec) >= len(d.msix.efds) {
		grown := make([]int32, vec+1)
		for i := range grown {
			grown[i] = -1
		}
		copy(grown, d.msix.efds)
		d.msix.efds = grown
	}
	if d.msix.efds[vec] >= 0 {
		return -1, fmt.Errorf("vfio: vector %d already armed: %w", vec, ErrAlreadyArmed)
	}

	efd, err := d.sys.Eventfd()
	if err != nil {
		return -1, fmt.Errorf("vfio: eventfd: %w", err)
	}

	prev := d.msix.efds[vec]
	d.msix.efds[vec] = int32(efd)
	if err := irqSetEventfds(d.sys, d.fd, d.msix.efds); err != nil {
		d.sys.Close(efd)
		d.msix.efds[vec] = prev
		return -1, fmt.Errorf("vfio: VFIO_DEVICE_SET_IRQS (enable vec %d): %w", vec, err)
	}

	return efd, nil
}

// DisableVector unarms and closes the eventfd for vec, recommitting the
// whole eventfd table with vec's slot cleared.
func (d *Device) DisableVector(vec uint32) error {
	if d.msix == nil || int(vec) >= len(d.msix.efds) || d.msix.efds[vec] < 0 {
		return fmt.Errorf("vfio: vector %d is not armed: %w", vec, ErrNotArmed)
	}

	closing := d.msix.efds[vec]
	d.msix.efds[vec] = -1
	if err := irqSetEventfds(d.sys, d.fd, d.msix.efds); err != nil {
		logging.Write("vfio", logging.LevelErr, "VFIO_DEVICE_SET_IRQS (disable vec %d): %v", vec, err)
	}

	d.sys.Close(int(closing))
	return nil
}

// DisableAllVectors unarms and closes every currently armed vector with a
// single all-zero-count, DATA_NONE ioctl, mirroring
// vfio_pci_disable_interrupts.
func (d *Device) DisableAllVectors() error {
	if d.msix == nil {
		return nil
	}

	if err := irqSetDisableAll(d.sys, d.fd); err != nil {
		logging.Write("vfio", logging.LevelErr, "VFIO_DEVICE_SET_IRQS (disable all): %v", err)
	}

	for i, efd := range d.msix.efds {
		if efd >= 0 {
			d.sys.Close(int(efd))
			d.msix.efds[i] = -1
		}
	}
	return nil
}

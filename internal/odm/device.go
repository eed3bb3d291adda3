package odm

import (
	"fmt"

	"github.com/odmpf/odmpfd/internal/irqdemux"
	"github.com/odmpf/odmpfd/internal/mbox"
	"github.com/odmpf/odmpfd/internal/odmreg"
	"github.com/odmpf/odmpfd/internal/pmem"
	"github.com/odmpf/odmpfd/internal/sriov"
	"github.com/odmpf/odmpfd/internal/vfio"
)

// BDF is the fixed PCI bus/device/function the PF binds to.
const BDF = "0000:08:00.0"

// Config is the subset of the validated CLI configuration the bring-up
// sequencer needs.
type Config struct {
	EngSel   uint32
	VFToken  [16]byte
	NumVFs   uint8
}

// Device is the top-level aggregate: the VFIO handle, the register
// surface carved out of BAR 0, the interrupt demultiplexer, the mailbox
// dispatcher and its sixteen per-VF workers, and the SR-IOV observer.
// Exactly one exists per process.
type Device struct {
	container *vfio.Container
	pci       *vfio.Device
	reg       odmreg.Region
	demux     *irqdemux.Demux
	dispatch  *mbox.Dispatcher
	workers   [mbox.MaxVFs]*mbox.Worker
	observer  *sriov.Observer
	state     *mbox.State
	vecEfds   map[int]int

	numVecs int
}

// openDevice runs the VFIO/BAR0/register portion of bring-up shared by
// Start and ProbeForSelfTest: container, group, device, BAR0 map, and the
// register-level Probe plus queue-interrupt clear. It arms no MSI-X
// vector, so the returned Device's vector table is entirely free for the
// caller to use.
func openDevice() (d *Device, err error) {
	container, err := vfio.NewContainer()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			container.Close()
		}
	}()

	pci, err := vfio.Setup(container, BDF)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			pci.Close()
		}
	}()

	bar0 := pci.Region(0)
	if bar0 == nil || bar0.Bytes() == nil {
		err = fmt.Errorf("odm: BAR0 of %s is not mapped", BDF)
		return nil, err
	}
	reg := odmreg.NewMMIO(bar0.Bytes())

	numVecs, err := pci.VectorCount()
	if err != nil {
		return nil, err
	}

	d = &Device{
		container: container,
		pci:       pci,
		reg:       reg,
		demux:     irqdemux.New(),
		vecEfds:   make(map[int]int),
		numVecs:   int(numVecs),
	}

	Probe(reg)
	ClearAndDisableQueueInterrupts(reg)
	return d, nil
}

// ProbeForSelfTest runs only the VFIO/BAR0/register portion of bring-up,
// arming no production interrupt vector and spawning no mailbox worker.
// It mirrors the original's throwaway odm_pf_probe/odm_pf_release cycle,
// run once per self-test subtest instead of sharing the live device -s
// would otherwise bring up: that keeps the self-test's own scratch MSI-X
// vector from colliding with one Start already armed for production use.
// The caller must Stop the returned Device when done.
func ProbeForSelfTest() (*Device, error) {
	return openDevice()
}

// Start runs the full bring-up sequence: container, group, device, BAR
// map, global register programming and queue-interrupt masking, MSI-X arm
// and interrupt demux wire-up, mailbox workers, queue-interrupt unmask,
// and finally the shared-memory state blob. Any failure rewinds everything
// already constructed, in reverse order.
func Start(cfg Config) (d *Device, err error) {
	d, err = openDevice()
	if err != nil {
		return nil, err
	}
	dev := d
	defer func() {
		if err != nil {
			dev.Stop()
		}
	}()

	for vec := 0; vec < d.numVecs; vec++ {
		if vec == odmreg.VecMailbox {
			continue
		}
		if err = d.armVector(vec, ErrorCallback(d.reg, vec)); err != nil {
			return nil, err
		}
	}

	d.dispatch = mbox.NewDispatcher(d.reg)
	if err = d.armVector(odmreg.VecMailbox, d.dispatch.HandleInterrupt); err != nil {
		return nil, err
	}

	maxQPerVF := sriov.MaxQueues / int(cfg.NumVFs)
	d.state = mbox.NewState(maxQPerVF)
	d.observer = sriov.NewObserver(BDF, d.reg, int(cfg.NumVFs))

	for i := 0; i < mbox.MaxVFs; i++ {
		w := mbox.NewWorker(i, d.reg, d.state, d.observer)
		w.Start()
		d.workers[i] = w
		d.dispatch.Bind(i, w)
	}

	EnableQueueInterrupts(d.reg)

	blobMem, err := pmem.Alloc(pmem.StateName, pmem.StateSize)
	if err != nil {
		return nil, err
	}
	blob := pmem.NewState(blobMem)
	blob.SetDevState(pmem.DevStateInitDone)
	blob.SetMaxQPerVF(int32(maxQPerVF))
	blob.SetVFsInUse(int32(cfg.NumVFs))
	blob.SetDevState(pmem.DevStateRunning)

	return d, nil
}

// Reg returns the device's BAR0 register surface, for self-test and
// diagnostic use.
func (d *Device) Reg() odmreg.Region { return d.reg }

// PCI returns the underlying VFIO device handle.
func (d *Device) PCI() *vfio.Device { return d.pci }

// Demux returns the interrupt demultiplexer wired to this device.
func (d *Device) Demux() *irqdemux.Demux { return d.demux }

func (d *Device) armVector(vec int, cb func()) error {
	efd, err := d.pci.EnableVector(uint32(vec))
	if err != nil {
		return fmt.Errorf("odm: enable vector %d: %w", vec, err)
	}
	if err := d.demux.Register(efd, cb); err != nil {
		d.pci.DisableVector(uint32(vec))
		return fmt.Errorf("odm: register vector %d: %w", vec, err)
	}
	d.vecEfds[vec] = efd
	return nil
}

// unwindVectors reverses armVector for everything armed so far, used on a
// failed Start. It unregisters the induction variable's own vector, not a
// fixed constant, so a failure midway through the loop only tears down
// what actually got armed.
func (d *Device) unwindVectors() {
	for vec := range d.vecEfds {
		d.demux.Unregister(d.vecEfds[vec])
		d.pci.DisableVector(uint32(vec))
		delete(d.vecEfds, vec)
	}
}

// Stop runs the full teardown sequence: quit and join every mailbox
// worker, unregister and disable every interrupt vector, zero the global
// ODM registers, then unmap BAR0, close the device fd, and leave the
// group. This is the only supported shutdown path.
func (d *Device) Stop() error {
	for _, w := range d.workers {
		if w != nil {
			w.Stop()
		}
	}

	d.unwindVectors()

	Release(d.reg)

	if err := d.pci.Close(); err != nil {
		return err
	}
	return d.container.Close()
}

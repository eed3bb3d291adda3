// Package odm sequences the ODM device's global bring-up and teardown,
// dispatches its error interrupts, and wires the mailbox protocol to the
// interrupt demultiplexer and VFIO device handle.
package odm

import "github.com/odmpf/odmpfd/internal/odmreg"

// engMaxFifoHalf is ODM_ENG_MAX_FIFO / 2, the per-engine FIFO size (in
// units of the ENGX_BUF size field) programmed at bring-up.
const engMaxFifoHalf = 128 / 2

// ncbMolrMax is the MOLR field value programmed into NCB_CFG at bring-up.
const ncbMolrMax = 0x200

// Probe programs global engine and DMA registers: FIFO sizing for both
// engines, DMA_CONTROL, CTL enable, the request-queue generic-buffer
// threshold, and NCB_CFG's MOLR field.
func Probe(reg odmreg.Region) {
	for i := 0; i < 2; i++ {
		cur := reg.ReadU64(odmreg.EngXBuf(i))
		cur = (cur &^ 0x7f) | engMaxFifoHalf
		reg.WriteU64(odmreg.EngXBuf(i), cur)
	}

	reg.WriteU64(odmreg.DMAControl, odmreg.DMAZBWCSEN|odmreg.DMAEnb(0x3))
	reg.WriteU64(odmreg.CTL, odmreg.CTLEnable)
	reg.WriteU64(odmreg.ReqqGenbuffThLimit, odmreg.ODMThVal)

	ncb := reg.ReadU64(odmreg.NCBConfig)
	ncb = (ncb &^ 0x3ff) | ncbMolrMax
	reg.WriteU64(odmreg.NCBConfig, ncb)
}

// Release zeroes engine FIFO registers, clears DMA_CONTROL, and writes
// ~CTL_EN to CTL. This is a literal port of odm_pf.c's release path: it
// does not preserve CTL's other bits, matching the original exactly
// rather than read-modify-writing just the enable bit.
func Release(reg odmreg.Region) {
	for i := 0; i < 2; i++ {
		reg.WriteU64(odmreg.EngXBuf(i), 0)
	}
	reg.WriteU64(odmreg.DMAControl, 0)
	reg.WriteU64(odmreg.CTL, ^odmreg.CTLEnable)
}

// ClearAndDisableQueueInterrupts clears and masks PF_RAS and every
// REQQX_INT[i], run before per-vector arming so no stale interrupt
// immediately re-fires once its vector is enabled.
func ClearAndDisableQueueInterrupts(reg odmreg.Region) {
	reg.WriteU64(odmreg.PFRAS, odmreg.RASInt)
	reg.WriteU64(odmreg.PFRASEnaW1C, odmreg.RASInt)

	for i := 0; i < odmreg.MaxReqqInt; i++ {
		reg.WriteU64(odmreg.ReqqXInt(i), odmreg.ReqqInt)
		reg.WriteU64(odmreg.ReqqXIntEnaW1C(i), odmreg.ReqqInt)
	}
}

// EnableQueueInterrupts unmasks PF_RAS and every REQQX_INT[i], the last
// bring-up step once every vector has a callback registered.
func EnableQueueInterrupts(reg odmreg.Region) {
	reg.WriteU64(odmreg.PFRASEnaW1S, odmreg.RASInt)

	for i := 0; i < odmreg.MaxReqqInt; i++ {
		reg.WriteU64(odmreg.ReqqXIntEnaW1S(i), odmreg.ReqqInt)
	}
}

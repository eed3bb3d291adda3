package mbox

import (
	"github.com/odmpf/odmpfd/internal/odmreg"
)

// Dispatcher is the doorbell ISR for the dedicated mailbox vector (0x21).
// It performs no hardware programming itself; it only reads the doorbell
// bitmap, decodes each pending VF's message, and hands it off to that
// VF's Worker.
type Dispatcher struct {
	reg     odmreg.Region
	workers [MaxVFs]*Worker
}

// NewDispatcher builds a Dispatcher over the given register region. Bind
// must be called once per VF to attach its Worker before interrupts fire.
func NewDispatcher(reg odmreg.Region) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// Bind attaches w as the handler for vfID's mailbox traffic.
func (d *Dispatcher) Bind(vfID int, w *Worker) {
	d.workers[vfID] = w
}

// HandleInterrupt is the callback registered against vector 0x21 in the
// interrupt demultiplexer. It must be fast and non-blocking: all it does
// is read the pending bitmap, drain each pending VF's two words, and post
// to that VF's worker channel.
func (d *Dispatcher) HandleInterrupt() {
	pending := d.reg.ReadU64(odmreg.MBoxVFPFInt)
	if pending == 0 {
		return
	}

	for i := 0; i < MaxVFs; i++ {
		bit := uint64(1) << uint(i)
		if pending&bit == 0 {
			continue
		}

		word0 := d.reg.ReadU64(odmreg.MBoxPFVFData(i, 0))
		word1 := d.reg.ReadU64(odmreg.MBoxPFVFData(i, 1))

		// write-one-to-clear: writing back just this bit leaves any bit
		// that was set concurrently for another VF untouched.
		d.reg.WriteU64(odmreg.MBoxVFPFInt, bit)

		msg := Decode(word0, word1)
		msg.VFID = uint8(i)

		if w := d.workers[i]; w != nil {
			w.Post(msg)
		}
	}
}

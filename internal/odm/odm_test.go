package odm

import (
	"testing"

	"github.com/odmpf/odmpfd/internal/odmreg"
)

func TestProbeProgramsFIFOAndDMAControl(t *testing.T) {
	reg := odmreg.NewFake(0x20000)
	Probe(reg)

	for i := 0; i < 2; i++ {
		if got := reg.ReadU64(odmreg.EngXBuf(i)) & 0x7f; got != engMaxFifoHalf {
			t.Errorf("engine %d FIFO size = %d, want %d", i, got, engMaxFifoHalf)
		}
	}

	dma := reg.ReadU64(odmreg.DMAControl)
	if dma&odmreg.DMAZBWCSEN == 0 {
		t.Error("ZBWCSEN not set after Probe")
	}
	if (dma>>48)&0x3f != 0x3 {
		t.Errorf("DMA_ENB = %#x, want 0x3", (dma>>48)&0x3f)
	}

	if reg.ReadU64(odmreg.CTL)&odmreg.CTLEnable == 0 {
		t.Error("CTL enable bit not set after Probe")
	}
	if reg.ReadU64(odmreg.ReqqGenbuffThLimit) != odmreg.ODMThVal {
		t.Error("REQQ_GENBUFF_TH_LIMIT not programmed to ODM_TH_VAL")
	}
}

func TestReleaseZeroesRegisters(t *testing.T) {
	reg := odmreg.NewFake(0x20000)
	Probe(reg)
	Release(reg)

	if reg.ReadU64(odmreg.DMAControl) != 0 {
		t.Error("DMA_CONTROL not zeroed by Release")
	}
	if reg.ReadU64(odmreg.CTL)&odmreg.CTLEnable != 0 {
		t.Error("CTL enable bit should be clear after Release")
	}
	for i := 0; i < 2; i++ {
		if reg.ReadU64(odmreg.EngXBuf(i)) != 0 {
			t.Errorf("engine %d FIFO register not zeroed", i)
		}
	}
}

// w1cRegion gives one register of a plain-storage Fake the hardware's
// write-one-to-clear behavior: a write clears the written bits.
type w1cRegion struct {
	*odmreg.Fake
	w1c uint64
}

func (r w1cRegion) WriteU64(offset uint64, val uint64) {
	if offset == r.w1c {
		val = r.Fake.ReadU64(offset) &^ val
	}
	r.Fake.WriteU64(offset, val)
}

func TestErrorCallbackReqqClearsOwnVector(t *testing.T) {
	reg := odmreg.NewFake(0x20000)
	reg.WriteU64(odmreg.ReqqXInt(5), odmreg.ReqqInstrFlt)

	cb := ErrorCallback(w1cRegion{Fake: reg, w1c: odmreg.ReqqXInt(5)}, 5)
	cb()

	if reg.ReadU64(odmreg.ReqqXInt(5)) != 0 {
		t.Error("REQQX_INT(5) should be cleared by write-back")
	}
}

func TestErrorCallbackInvalidIndexDoesNotPanic(t *testing.T) {
	reg := odmreg.NewFake(0x20000)
	cb := ErrorCallback(reg, 0x99)
	cb() // must not panic
}

func TestClearAndEnableQueueInterruptsRoundTrip(t *testing.T) {
	reg := odmreg.NewFake(0x20000)
	ClearAndDisableQueueInterrupts(reg)
	EnableQueueInterrupts(reg)

	if reg.ReadU64(odmreg.PFRASEnaW1S) != odmreg.RASInt {
		t.Error("PF_RAS_ENA_W1S not written")
	}
}

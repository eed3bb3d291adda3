// Package odmreg is the ODM register surface: 64-bit MMIO access on BAR 0
// plus the register offsets and bitfield constants that encode the
// hardware contract. All offsets are taken from the ODM programmer's
// manual, carried over unchanged from the original vfio_pci/odm_pf headers.
package odmreg

import (
	"sync/atomic"
	"unsafe"

	"github.com/odmpf/odmpfd/internal/logging"
)

// Register offsets (BAR 0).
const (
	CTL                  uint64 = 0x10010
	DMAControl           uint64 = 0x10018
	NCBConfig            uint64 = 0x100A0
	PFRAS                uint64 = 0x10308
	PFRASW1S             uint64 = 0x10310
	PFRASEnaW1C          uint64 = 0x10318
	PFRASEnaW1S          uint64 = 0x10320
	MBoxVFPFInt          uint64 = 0x16300
	MBoxVFPFIntW1S       uint64 = 0x16308
	MBoxVFPFIntEnaW1C    uint64 = 0x16310
	MBoxVFPFIntEnaW1S    uint64 = 0x16318
	ReqqGenbuffThLimit   uint64 = 0x17000
	NCBOErrInfo          uint64 = 0x17200
	NCBOErrInt           uint64 = 0x17300
)

// EngXBuf returns the per-engine FIFO config offset for engine i.
func EngXBuf(i int) uint64 { return 0x100C0 + uint64(i)*8 }

// ReqqXInt returns the per-queue interrupt status offset for queue i.
func ReqqXInt(i int) uint64 { return 0x12C00 + uint64(i)*32 }

// ReqqXIntW1S returns the per-queue interrupt write-1-to-set offset.
func ReqqXIntW1S(i int) uint64 { return 0x13000 + uint64(i)*32 }

// ReqqXIntEnaW1C returns the per-queue interrupt-enable write-1-clear offset.
func ReqqXIntEnaW1C(i int) uint64 { return 0x13800 + uint64(i)*32 }

// ReqqXIntEnaW1S returns the per-queue interrupt-enable write-1-set offset.
func ReqqXIntEnaW1S(i int) uint64 { return 0x13C00 + uint64(i)*32 }

// MBoxPFVFData returns the offset of mailbox word d (0 or 1) for VF v.
func MBoxPFVFData(v, d int) uint64 { return 0x16000 + uint64(v)*16 + uint64(d)*8 }

// DMAXIDs returns the queue-identity register offset for queue q.
func DMAXIDs(q int) uint64 { return 0x18 + uint64(q)*2048 }

// DMAXQRst returns the queue-reset register offset for queue q.
func DMAXQRst(q int) uint64 { return 0x30 + uint64(q)*2048 }

// ODMThVal is the fixed request-queue generic-buffer threshold value.
const ODMThVal uint64 = 0x108030A020C01040

// Bitfield helpers.
const (
	CTLEnable  uint64 = 0x1
	DMAZBWCSEN uint64 = 1 << 39
)

// DMAEnb packs the 6-bit DMA_ENB field into DMA_CONTROL bits [53:48].
func DMAEnb(x uint64) uint64 { return (x & 0x3f) << 48 }

// DMAStrm packs the 8-bit DMA stream id into DMAX_IDS bits [39:32].
func DMAStrm(x uint64) uint64 { return (x & 0xff) << 32 }

// InstStrm packs the 8-bit instruction stream id into DMAX_IDS bits [47:40].
func InstStrm(x uint64) uint64 { return (x & 0xff) << 40 }

// RAS error bits (PF_RAS / PF_RAS_ENA_*).
const (
	RASEbiDatPsn uint64 = 1 << 0
	RASNcbDatPsn uint64 = 1 << 1
	RASNcbCmdPsn uint64 = 1 << 2
	RASInt              = RASEbiDatPsn | RASNcbDatPsn | RASNcbCmdPsn
)

// Request-queue error bits (REQQX_INT / REQQX_INT_ENA_*).
const (
	ReqqInstrFlt       uint64 = 1 << 0
	ReqqRdFlt          uint64 = 1 << 1
	ReqqWrFlt          uint64 = 1 << 2
	ReqqCsFlt          uint64 = 1 << 3
	ReqqInstDbo        uint64 = 1 << 4
	ReqqInstFillInval  uint64 = 1 << 6
	ReqqInstrPsn       uint64 = 1 << 7
	ReqqInstrTimeout   uint64 = 1 << 9
	ReqqInt                   = ReqqInstrFlt | ReqqRdFlt | ReqqWrFlt | ReqqCsFlt |
		ReqqInstDbo | ReqqInstFillInval | ReqqInstrPsn | ReqqInstrTimeout
)

// Dedicated MSI-X vector indices.
const (
	VecRAS     = 0x20
	VecMailbox = 0x21
	VecNCBErr  = 0x22
)

// MaxReqqInt is the number of per-queue request interrupts, [0, MaxReqqInt).
const MaxReqqInt = 32

// sentinelRead is the bit pattern of -ENOMEM, returned by unchecked reads
// that fall outside the mapped region. This preserves a quirk carried over
// from the original C driver: the error is indistinguishable from data
// unless the caller uses ReadU64Checked.
const sentinelRead = uint64(^uint64(12) + 1) // two's complement of 12 (ENOMEM)

// Region is 64-bit MMIO access against one mapped BAR.
type Region interface {
	// ReadU64 reads the 64-bit value at offset. An out-of-range offset is
	// logged and returns the sentinel bit pattern of -ENOMEM.
	ReadU64(offset uint64) uint64
	// ReadU64Checked is the same read with the error surfaced explicitly.
	ReadU64Checked(offset uint64) (uint64, bool)
	// WriteU64 writes val at offset. An out-of-range offset is logged and
	// silently dropped.
	WriteU64(offset uint64, val uint64)
	// Len returns the mapped region's length in bytes.
	Len() uint64
}

// MMIO is a Region backed by a live mmap'd byte slice (typically BAR 0).
type MMIO struct {
	base []byte
}

// NewMMIO wraps an mmap'd byte slice as a register Region.
func NewMMIO(base []byte) *MMIO {
	return &MMIO{base: base}
}

func (m *MMIO) Len() uint64 { return uint64(len(m.base)) }

func (m *MMIO) ReadU64Checked(offset uint64) (uint64, bool) {
	// the 8-byte read must fit entirely within base; offset alone isn't enough.
	if offset+8 > uint64(len(m.base)) {
		return 0, false
	}
	ptr := (*uint64)(unsafe.Pointer(&m.base[offset]))
	return atomic.LoadUint64(ptr), true
}

func (m *MMIO) ReadU64(offset uint64) uint64 {
	v, ok := m.ReadU64Checked(offset)
	if !ok {
		logging.Write("odmreg", logging.LevelErr, "reg offset 0x%x is out of range", offset)
		return sentinelRead
	}
	return v
}

func (m *MMIO) WriteU64(offset uint64, val uint64) {
	if offset+8 > uint64(len(m.base)) {
		logging.Write("odmreg", logging.LevelErr, "reg offset 0x%x is out of range", offset)
		return
	}
	ptr := (*uint64)(unsafe.Pointer(&m.base[offset]))
	atomic.StoreUint64(ptr, val)
}

package odmreg

// Fake is an in-memory Region for tests that don't need a real mmap'd BAR.
type Fake struct {
	mmio *MMIO
}

// NewFake returns a Fake register region of the given size, zero-filled.
func NewFake(size int) *Fake {
	return &Fake{mmio: NewMMIO(make([]byte, size))}
}

func (f *Fake) ReadU64(offset uint64) uint64                  { return f.mmio.ReadU64(offset) }
func (f *Fake) ReadU64Checked(offset uint64) (uint64, bool)   { return f.mmio.ReadU64Checked(offset) }
func (f *Fake) WriteU64(offset uint64, val uint64)            { f.mmio.WriteU64(offset, val) }
func (f *Fake) Len() uint64                                   { return f.mmio.Len() }

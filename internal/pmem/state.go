package pmem

import (
	"sync/atomic"
	"unsafe"
)

// Device lifecycle states, carried in the shared blob so a restarted
// process (or an inspecting tool) can observe where bring-up left off.
const (
	DevStateInit = iota
	DevStateInitDone
	DevStateRunning
)

// MaxVFs bounds the per-VF setup-flag table.
const MaxVFs = 16

// rawState is the shared-memory layout, laid out so repeated attaches
// from different processes agree on field offsets without any
// serialization step.
type rawState struct {
	devState  int32
	maxQPerVF int32
	vfsInUse  int32
	setupDone [MaxVFs]int32
}

// StateSize is the number of bytes StateName's blob must be allocated
// with.
const StateSize = int(unsafe.Sizeof(rawState{}))

// StateName is the fixed POSIX shared-memory name for the ODM cross-
// process state blob.
const StateName = "odm_pmem"

// State is a typed view over the cross-process state blob: device
// lifecycle, queues-per-VF, VF-in-use count, and per-VF setup flags.
type State struct {
	raw *rawState
}

// NewState wraps a mapped blob (as returned by Alloc(StateName, StateSize))
// as a State.
func NewState(mem []byte) *State {
	if len(mem) < StateSize {
		panic("pmem: blob too small for State")
	}
	return &State{raw: (*rawState)(unsafe.Pointer(&mem[0]))}
}

func (s *State) DevState() int32 { return atomic.LoadInt32(&s.raw.devState) }
func (s *State) SetDevState(v int32) { atomic.StoreInt32(&s.raw.devState, v) }

func (s *State) MaxQPerVF() int32    { return atomic.LoadInt32(&s.raw.maxQPerVF) }
func (s *State) SetMaxQPerVF(v int32) { atomic.StoreInt32(&s.raw.maxQPerVF, v) }

func (s *State) VFsInUse() int32    { return atomic.LoadInt32(&s.raw.vfsInUse) }
func (s *State) SetVFsInUse(v int32) { atomic.StoreInt32(&s.raw.vfsInUse, v) }

func (s *State) SetupDone(vfID int) bool {
	return atomic.LoadInt32(&s.raw.setupDone[vfID]) != 0
}

func (s *State) SetSetupDone(vfID int, v bool) {
	var i int32
	if v {
		i = 1
	}
	atomic.StoreInt32(&s.raw.setupDone[vfID], i)
}

package mbox

import (
	"sync"
	"sync/atomic"

	"github.com/odmpf/odmpfd/internal/logging"
	"github.com/odmpf/odmpfd/internal/odmreg"
)

// queueResetSpins bounds the queue-reset busy-wait; no sleep, no wall-clock
// timeout is reported by the hardware, so an iteration cap is the only
// backstop against a wedged queue.
const queueResetSpins = 16 * 1000 * 1000

// QueueReset issues a hardware queue reset and busy-waits for it to clear.
func QueueReset(reg odmreg.Region, qid int) {
	reg.WriteU64(odmreg.DMAXQRst(qid), 1)

	for i := 0; i < queueResetSpins; i++ {
		if reg.ReadU64(odmreg.DMAXQRst(qid))&0x1 == 0 {
			break
		}
	}

	reg.WriteU64(odmreg.DMAXIDs(qid), 0)
}

// SRIOVObserver is the mailbox worker's view of the SR-IOV count observer
// (section H), invoked on ODM_DEV_INIT.
type SRIOVObserver interface {
	Observe() (maxQPerVF int, err error)
}

// State is the cross-worker bookkeeping the workers share: the current
// queues-per-VF split and each VF's setup flag. It lives in process memory
// only; the workers do not write these values into the shared-memory blob.
type State struct {
	maxQPerVF int32

	mu         sync.Mutex
	setupDone  [MaxVFs]bool
}

// NewState returns a State seeded with the initial queues-per-VF value.
func NewState(maxQPerVF int) *State {
	s := &State{}
	atomic.StoreInt32(&s.maxQPerVF, int32(maxQPerVF))
	return s
}

func (s *State) MaxQPerVF() int { return int(atomic.LoadInt32(&s.maxQPerVF)) }

func (s *State) setMaxQPerVF(v int) { atomic.StoreInt32(&s.maxQPerVF, int32(v)) }

func (s *State) setSetupDone(vfID int, v bool) {
	s.mu.Lock()
	s.setupDone[vfID] = v
	s.mu.Unlock()
}

// SetupDone reports whether vfID has an open queue set.
func (s *State) SetupDone(vfID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupDone[vfID]
}

// Worker consumes one VF's mailbox traffic. It replaces the original
// mutex+condvar handoff with a single-slot channel: the ISR posts and the
// worker drains, and Stop posts a sentinel that unblocks a parked worker
// without needing a dedicated quit flag under a lock.
type Worker struct {
	vfID     int
	reg      odmreg.Region
	state    *State
	observer SRIOVObserver

	inbox chan Message
	done  chan struct{}
}

// NewWorker constructs a worker for vfID. Start must be called to begin
// processing.
func NewWorker(vfID int, reg odmreg.Region, state *State, observer SRIOVObserver) *Worker {
	return &Worker{
		vfID:     vfID,
		reg:      reg,
		state:    state,
		observer: observer,
		inbox:    make(chan Message, 1),
		done:     make(chan struct{}),
	}
}

// Start spawns the worker goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Post hands msg to the worker. It replaces any message already waiting
// and un-delivered, matching the original's single mailbox-work slot.
func (w *Worker) Post(msg Message) {
	select {
	case w.inbox <- msg:
	default:
		select {
		case <-w.inbox:
		default:
		}
		w.inbox <- msg
	}
}

// Stop posts a CmdQuit sentinel and waits for the worker goroutine to
// exit.
func (w *Worker) Stop() {
	w.inbox <- Message{Cmd: CmdQuit}
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)

	for msg := range w.inbox {
		if msg.Cmd == CmdQuit {
			return
		}
		w.handle(msg)
	}
}

func (w *Worker) handle(msg Message) {
	reply := msg
	reply.Err = 0

	switch msg.Cmd {
	case CmdDevInit:
		maxQ, err := w.observer.Observe()
		if err != nil {
			logging.Write("mbox", logging.LevelErr, "vf %d: sriov observe: %v", w.vfID, err)
			reply.Err = 1
			break
		}
		w.state.setMaxQPerVF(maxQ)

	case CmdQueueOpen:
		maxQ := w.state.MaxQPerVF()
		hwQid := w.vfID*maxQ + int(msg.QIdx)
		QueueReset(w.reg, hwQid)

		strm := uint64(w.vfID + 1)
		w.reg.WriteU64(odmreg.DMAXIDs(hwQid), odmreg.DMAStrm(strm)|odmreg.InstStrm(strm))
		w.state.setSetupDone(w.vfID, true)

	case CmdDevClose:
		maxQ := w.state.MaxQPerVF()
		base := w.vfID * maxQ
		for q := base; q < base+maxQ; q++ {
			QueueReset(w.reg, q)
		}
		w.state.setSetupDone(w.vfID, false)

	default:
		// no-op reply, including CmdQueueClose and CmdRegDump which carry
		// no PF-side hardware action in this controller.
	}

	reply.Rsp = msg.Cmd
	reply.NVFs = uint8((w.reg.ReadU64(odmreg.CTL) >> 4) & 0x3)

	word0, word1 := reply.Encode()
	w.reg.WriteU64(odmreg.MBoxPFVFData(w.vfID, 0), word0)
	w.reg.WriteU64(odmreg.MBoxPFVFData(w.vfID, 1), word1)
}

// Package mbox implements the PF side of the PF/VF mailbox protocol: the
// 128-bit message layout, the doorbell ISR that demultiplexes by VF id, and
// the per-VF worker that executes queue lifecycle commands.
package mbox

// Command codes for the request half of a message, as posted by a VF.
const (
	CmdDevInit    = 0x1
	CmdDevClose   = 0x2
	CmdQueueOpen  = 0x3
	CmdQueueClose = 0x4
	CmdRegDump    = 0x5
	// CmdQuit is never sent by a VF; the PF stamps it into a worker's own
	// slot to unblock it during shutdown.
	CmdQuit = 0x6
)

// MaxVFs bounds the per-VF worker and mailbox slot tables.
const MaxVFs = 16

// Message is the 128-bit mailbox payload: a response half (d) the PF fills
// in, and a request half (q) the VF fills in. Word 0 holds d, word 1
// holds q.
type Message struct {
	Rsp  uint8 // d.rsp   bits [7:0]
	NVFs uint8 // d.nvfs  bits [9:8]
	Err  uint8 // d.err   bits [15:10]

	Cmd  uint8 // q.cmd   bits [7:0]
	VFID uint8 // q.vf_id bits [15:8]
	QIdx uint8 // q.q_idx bits [23:16]
}

// Decode unpacks the two raw 64-bit mailbox words into a Message.
func Decode(word0, word1 uint64) Message {
	return Message{
		Rsp:  uint8(word0 & 0xff),
		NVFs: uint8((word0 >> 8) & 0x3),
		Err:  uint8((word0 >> 10) & 0x3f),

		Cmd:  uint8(word1 & 0xff),
		VFID: uint8((word1 >> 8) & 0xff),
		QIdx: uint8((word1 >> 16) & 0xff),
	}
}

// Encode packs a Message back into the two raw 64-bit mailbox words.
func (m Message) Encode() (word0, word1 uint64) {
	word0 = uint64(m.Rsp) | uint64(m.NVFs&0x3)<<8 | uint64(m.Err&0x3f)<<10
	word1 = uint64(m.Cmd) | uint64(m.VFID)<<8 | uint64(m.QIdx)<<16
	return word0, word1
}

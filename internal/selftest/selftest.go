// Package selftest runs the -s self-test sequence: a shared-memory round
// trip, a register read/write-back round trip, and a fake-interrupt round
// trip through the live interrupt demultiplexer.
package selftest

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/odmpf/odmpfd/internal/irqdemux"
	"github.com/odmpf/odmpfd/internal/logging"
	"github.com/odmpf/odmpfd/internal/odmreg"
	"github.com/odmpf/odmpfd/internal/pmem"
)

// pmemName and pmemSize match the original test_pmem fixture.
const (
	pmemName = "odmpfd_selftest"
	pmemSize = 1024
)

// RunPmem allocates a named shared blob, writes a marker through the
// mapping, then reads the named object back through an independent open
// of its /dev/shm path and verifies the marker is there -- the Go analogue
// of the original's fork-based cross-process check. The blob is freed
// (unmapped and unlinked) on return.
func RunPmem() error {
	mem, err := pmem.Alloc(pmemName, pmemSize)
	if err != nil {
		return fmt.Errorf("selftest: pmem alloc: %w", err)
	}
	defer pmem.Free(pmemName)

	const msg = "Hello, world!"
	copy(mem, msg)

	onShm, err := os.ReadFile("/dev/shm/" + pmemName)
	if err != nil {
		return fmt.Errorf("selftest: pmem re-open: %w", err)
	}
	if len(onShm) < len(msg) || string(onShm[:len(msg)]) != msg {
		return fmt.Errorf("selftest: pmem content not visible through an independent open")
	}
	logging.Write("selftest", logging.LevelInfo, "pmem round trip passed")
	return nil
}

// testRegOffset is an unused scratch register (DMA_INTL_SEL) safe to
// clobber and restore during the register self-test.
const testRegOffset = 0x10028
const testRegVal = 0x12345678

// RunRegisterAccess writes a scratch register and reads it back, then
// restores the original value.
func RunRegisterAccess(reg odmreg.Region) error {
	orig := reg.ReadU64(testRegOffset)

	reg.WriteU64(testRegOffset, testRegVal)
	if got := reg.ReadU64(testRegOffset); got != testRegVal {
		reg.WriteU64(testRegOffset, orig)
		return fmt.Errorf("selftest: register round trip got %#x, want %#x", got, testRegVal)
	}

	reg.WriteU64(testRegOffset, orig)
	logging.Write("selftest", logging.LevelInfo, "register access round trip passed")
	return nil
}

// RunInterrupt registers a callback on a fresh eventfd through demux,
// fakes an interrupt by writing to it directly, and waits for the
// callback to fire.
func RunInterrupt(demux *irqdemux.Demux, efd int) error {
	fired := make(chan struct{})
	if err := demux.Register(efd, func() { close(fired) }); err != nil {
		return fmt.Errorf("selftest: register: %w", err)
	}
	defer demux.Unregister(efd)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(efd, buf[:]); err != nil {
		return fmt.Errorf("selftest: fake interrupt write: %w", err)
	}

	select {
	case <-fired:
		logging.Write("selftest", logging.LevelInfo, "interrupt round trip passed")
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("selftest: interrupt callback never fired")
	}
}

// Run executes the full self-test sequence against a live device and
// reports the first failure, matching odm_pf_selftest's all-or-nothing
// behavior.
func Run(reg odmreg.Region, demux *irqdemux.Demux, efd int) error {
	if err := RunPmem(); err != nil {
		return err
	}
	if err := RunRegisterAccess(reg); err != nil {
		return err
	}
	if err := RunInterrupt(demux, efd); err != nil {
		return err
	}
	logging.Write("selftest", logging.LevelInfo, "ODM PF selftest passed")
	return nil
}

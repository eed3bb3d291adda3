package pmem

import (
	"fmt"
	"testing"
)

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("odmpfd_test_%s", t.Name())
}

func TestAllocFreeRoundTrip(t *testing.T) {
	name := uniqueName(t)
	mem, err := Alloc(name, 4096)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer Free(name)

	mem[0] = 0xAB
	mem2, err := Alloc(name, 4096)
	if err != nil {
		t.Fatalf("second Alloc: %v", err)
	}
	if mem2[0] != 0xAB {
		t.Error("repeated Alloc should return the same mapping")
	}
}

func TestStateTransitions(t *testing.T) {
	name := uniqueName(t)
	mem, err := Alloc(name, StateSize)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer Free(name)

	s := NewState(mem)
	if s.DevState() != DevStateInit {
		t.Errorf("initial DevState = %d, want %d", s.DevState(), DevStateInit)
	}

	s.SetDevState(DevStateRunning)
	if s.DevState() != DevStateRunning {
		t.Error("DevState did not update")
	}

	s.SetSetupDone(3, true)
	if !s.SetupDone(3) {
		t.Error("SetupDone(3) should be true")
	}
	if s.SetupDone(4) {
		t.Error("SetupDone(4) should remain false")
	}
}

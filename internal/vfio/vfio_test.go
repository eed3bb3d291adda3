package vfio

import (
	"errors"
	"testing"
	"unsafe"
)

func TestIoctlEncodingIsStable(t *testing.T) {
	// regression guard: these numeric values must never drift, since they
	// are meaningful only when they match the kernel's uapi assignment.
	if iocGetAPIVersion != io(vfioType, vfioBase+0) {
		t.Error("VFIO_GET_API_VERSION encoding changed")
	}
	if iocDeviceSetIRQs == iocDeviceGetIRQInfo {
		t.Error("VFIO_DEVICE_SET_IRQS must not collide with VFIO_DEVICE_GET_IRQ_INFO")
	}
}

func TestIRQInfoEventfdCheckIsMaskedBeforeNegated(t *testing.T) {
	// guards against the original `!flags & EVENTFD` precedence bug, which
	// always evaluated the negation before the mask.
	flags := IRQInfoMaskable // eventfd bit clear, some other bit set
	if flags&IRQInfoEventfd != 0 {
		t.Fatal("test fixture: eventfd bit unexpectedly set")
	}
	if !(flags&IRQInfoEventfd == 0) {
		t.Error("masked-then-negated check should report not-eventfd-capable")
	}
}

func TestIRQSetEventfdsPayloadLayout(t *testing.T) {
	buf := make([]byte, unsafe.Sizeof(IRQSetHeader{})+3*4)
	hdr := (*IRQSetHeader)(unsafe.Pointer(&buf[0]))
	*hdr = IRQSetHeader{ArgSz: uint32(len(buf)), Index: PCIMSIXIRQIndex, Start: 2, Count: 3}

	payload := buf[unsafe.Sizeof(IRQSetHeader{}):]
	*(*int32)(unsafe.Pointer(&payload[0])) = 10
	*(*int32)(unsafe.Pointer(&payload[4])) = -1
	*(*int32)(unsafe.Pointer(&payload[8])) = 12

	if hdr.Start != 2 || hdr.Count != 3 {
		t.Fatalf("header Start/Count = %d/%d, want 2/3", hdr.Start, hdr.Count)
	}
	if got := *(*int32)(unsafe.Pointer(&payload[4])); got != -1 {
		t.Errorf("middle eventfd slot = %d, want -1 (disabled)", got)
	}
}

func TestMaxRegionIndexCapsEnumeration(t *testing.T) {
	numRegions := uint32(9)
	if numRegions > MaxRegionIndex+1 {
		numRegions = MaxRegionIndex + 1
	}
	if numRegions != 6 {
		t.Errorf("capped region count = %d, want 6", numRegions)
	}
}

func TestJoinGroupRefcounts(t *testing.T) {
	f := NewFake(1, 4096, 4)
	c, err := newContainer(f)
	if err != nil {
		t.Fatalf("newContainer: %v", err)
	}

	fd1, err := c.JoinGroup(7)
	if err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	fd2, err := c.JoinGroup(7)
	if err != nil {
		t.Fatalf("second JoinGroup: %v", err)
	}
	if fd1 != fd2 {
		t.Fatalf("repeated join of the same group returned different fds: %d vs %d", fd1, fd2)
	}

	if err := c.LeaveGroup(7); err != nil {
		t.Fatalf("first LeaveGroup: %v", err)
	}
	if len(f.ClosedFDs) != 0 {
		t.Fatalf("group fd closed after first LeaveGroup with an outstanding ref: %v", f.ClosedFDs)
	}

	if err := c.LeaveGroup(7); err != nil {
		t.Fatalf("second LeaveGroup: %v", err)
	}
	if len(f.ClosedFDs) != 1 || f.ClosedFDs[0] != fd1 {
		t.Fatalf("group fd not closed once refcount reached zero: closed=%v", f.ClosedFDs)
	}

	if err := c.LeaveGroup(7); err == nil {
		t.Fatal("LeaveGroup on an unjoined group should fail")
	}
}

func TestJoinGroupRejectsWhenTableFull(t *testing.T) {
	f := NewFake(1, 4096, 4)
	c, err := newContainer(f)
	if err != nil {
		t.Fatalf("newContainer: %v", err)
	}

	for i := uint(0); i < MaxGroups; i++ {
		if _, err := c.JoinGroup(i); err != nil {
			t.Fatalf("JoinGroup(%d): %v", i, err)
		}
	}

	if _, err := c.JoinGroup(MaxGroups); !errors.Is(err, ErrGroupTableFull) {
		t.Fatalf("JoinGroup past MaxGroups = %v, want ErrGroupTableFull", err)
	}
}

func TestSetupRewindsOnDeviceInfoFailure(t *testing.T) {
	f := NewFake(1, 4096, 4)
	f.FailGetDeviceInfo = errors.New("boom")
	c, err := newContainer(f)
	if err != nil {
		t.Fatalf("newContainer: %v", err)
	}

	if _, err := setupDevice(c, "0000:01:00.0", 3); err == nil {
		t.Fatal("setupDevice should fail when VFIO_DEVICE_GET_INFO fails")
	}

	// both the device fd (opened via IoctlStr) and the group fd (opened via
	// Open) must be torn down in the error path, group fd last since
	// LeaveGroup runs after the device-fd close defer.
	if len(f.ClosedFDs) != 2 {
		t.Fatalf("rewind closed %d fds, want 2 (device fd, then group fd): %v", len(f.ClosedFDs), f.ClosedFDs)
	}
}

func TestEnableVectorRejectsOutOfRange(t *testing.T) {
	f := NewFake(1, 4096, 4)
	d := &Device{name: "0000:01:00.0", sys: f, fd: 99}

	if _, err := d.EnableVector(4); !errors.Is(err, ErrVectorOutOfRange) {
		t.Fatalf("EnableVector(4) with count 4 = %v, want ErrVectorOutOfRange", err)
	}
}

func TestEnableVectorRejectsDoubleArm(t *testing.T) {
	f := NewFake(1, 4096, 4)
	d := &Device{name: "0000:01:00.0", sys: f, fd: 99}

	if _, err := d.EnableVector(1); err != nil {
		t.Fatalf("first EnableVector(1): %v", err)
	}
	if _, err := d.EnableVector(1); !errors.Is(err, ErrAlreadyArmed) {
		t.Fatalf("second EnableVector(1) = %v, want ErrAlreadyArmed", err)
	}

	if err := d.DisableVector(1); err != nil {
		t.Fatalf("DisableVector(1): %v", err)
	}
	if err := d.DisableVector(1); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("DisableVector on an already-disabled vector = %v, want ErrNotArmed", err)
	}
}

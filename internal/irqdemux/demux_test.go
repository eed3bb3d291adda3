package irqdemux

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newEventfd(t *testing.T) int {
	t.Helper()
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		t.Fatalf("eventfd: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func ring(t *testing.T, fd int) {
	t.Helper()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(fd, buf[:]); err != nil {
		t.Fatalf("write eventfd: %v", err)
	}
}

func TestRegisterDeliversOnRing(t *testing.T) {
	d := New()
	fd := newEventfd(t)

	var wg sync.WaitGroup
	wg.Add(1)
	if err := d.Register(fd, func() { wg.Done() }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer d.Unregister(fd)

	ring(t, fd)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestUnregisterStopsWorker(t *testing.T) {
	d := New()
	fd := newEventfd(t)

	if err := d.Register(fd, func() {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Unregister(fd); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	d.mu.Lock()
	epollFd := d.epollFd
	d.mu.Unlock()
	if epollFd != -1 {
		t.Errorf("epollFd = %d, want -1 after last unregister", epollFd)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	d := New()
	fd := newEventfd(t)
	defer d.Unregister(fd)

	if err := d.Register(fd, func() {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Register(fd, func() {}); err == nil {
		t.Error("expected error registering the same eventfd twice")
	}
}

func TestMultipleVectorsDispatchIndependently(t *testing.T) {
	d := New()
	fd1 := newEventfd(t)
	fd2 := newEventfd(t)

	var wg sync.WaitGroup
	wg.Add(2)
	var got1, got2 bool
	if err := d.Register(fd1, func() { got1 = true; wg.Done() }); err != nil {
		t.Fatalf("Register fd1: %v", err)
	}
	if err := d.Register(fd2, func() { got2 = true; wg.Done() }); err != nil {
		t.Fatalf("Register fd2: %v", err)
	}
	defer d.Unregister(fd1)
	defer d.Unregister(fd2)

	ring(t, fd1)
	ring(t, fd2)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all callbacks fired")
	}

	if !got1 || !got2 {
		t.Errorf("got1=%v got2=%v, want both true", got1, got2)
	}
}

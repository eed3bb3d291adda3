// Package irqdemux multiplexes N eventfds onto a single background thread
// using epoll, dispatching a per-vector callback on each wake. It mirrors
// vfio_pci_irq.c's epoll-based interrupt handler, generalized from a fixed
// per-device vector table to a general-purpose register/unregister API.
package irqdemux

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/odmpf/odmpfd/internal/logging"
)

// Demux lazily starts a worker goroutine when the first eventfd is
// registered and stops it when the last one is unregistered. It is safe
// for concurrent use.
type Demux struct {
	mu       sync.Mutex
	epollFd  int // -1 when not running
	entries  map[int]*entry
	nbCbs    int
	done     chan struct{}
}

type entry struct {
	efd int
	cb  func()
}

// New returns an idle demultiplexer. No thread or epoll fd exists until
// the first Register call.
func New() *Demux {
	return &Demux{epollFd: -1, entries: make(map[int]*entry)}
}

// Register starts the worker thread if this is the first registered
// vector, then arms efd for readiness notification. cb is invoked on the
// worker goroutine every time efd becomes readable; it must be short and
// non-blocking and must not call Register/Unregister for the same efd.
func (d *Demux) Register(efd int, cb func()) error {
	if cb == nil {
		return fmt.Errorf("irqdemux: nil callback")
	}
	if efd < 0 {
		return fmt.Errorf("irqdemux: invalid eventfd %d", efd)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.entries[efd]; dup {
		return fmt.Errorf("irqdemux: eventfd %d already registered", efd)
	}

	if d.epollFd < 0 {
		if err := d.start(); err != nil {
			return err
		}
	}

	e := &entry{efd: efd, cb: cb}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}
	if err := unix.EpollCtl(d.epollFd, unix.EPOLL_CTL_ADD, efd, &ev); err != nil {
		return fmt.Errorf("irqdemux: epoll_ctl add: %w", err)
	}

	d.entries[efd] = e
	d.nbCbs++
	return nil
}

// Unregister removes efd from the readiness set. When the last registered
// vector is removed, the worker thread is stopped and joined. The lock is
// released before that join: the worker itself takes d.mu (in run, to look
// up the fd that just woke it) to recognize the sentinel and exit, so
// holding the lock across the join would deadlock against the very
// goroutine being waited on.
func (d *Demux) Unregister(efd int) error {
	d.mu.Lock()

	if _, ok := d.entries[efd]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("irqdemux: eventfd %d not registered", efd)
	}

	if err := unix.EpollCtl(d.epollFd, unix.EPOLL_CTL_DEL, efd, nil); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("irqdemux: epoll_ctl del: %w", err)
	}
	delete(d.entries, efd)
	d.nbCbs--
	last := d.nbCbs == 0
	d.mu.Unlock()

	if last {
		return d.stop()
	}
	return nil
}

// start creates the epoll fd and spawns the worker goroutine.
// Caller must hold d.mu.
func (d *Demux) start() error {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("irqdemux: epoll_create1: %w", err)
	}
	d.epollFd = epollFd
	d.done = make(chan struct{})
	go d.run(epollFd, d.done)
	return nil
}

// stop arms a sentinel eventfd to break epoll_wait, joins the worker, and
// tears down the epoll fd. Must not be called with d.mu held: it blocks on
// <-done, and run() needs to acquire d.mu itself to notice the sentinel.
func (d *Demux) stop() error {
	d.mu.Lock()
	epollFd := d.epollFd
	done := d.done
	d.mu.Unlock()

	sentinelFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("irqdemux: create sentinel eventfd: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(sentinelFd)}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, sentinelFd, &ev); err != nil {
		unix.Close(sentinelFd)
		return fmt.Errorf("irqdemux: add sentinel: %w", err)
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(sentinelFd, buf[:]); err != nil {
		unix.Close(sentinelFd)
		return fmt.Errorf("irqdemux: wake sentinel: %w", err)
	}

	<-done

	unix.Close(sentinelFd)
	unix.Close(epollFd)

	d.mu.Lock()
	d.epollFd = -1
	d.done = nil
	d.mu.Unlock()
	return nil
}

func (d *Demux) run(epollFd int, done chan struct{}) {
	defer close(done)

	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(epollFd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logging.Write("irqdemux", logging.LevelErr, "epoll_wait failed: %v", err)
			return
		}

		stop := false
		for i := 0; i < n; i++ {
			efd := int(events[i].Fd)

			if events[i].Events&unix.EPOLLIN == 0 {
				logging.Write("irqdemux", logging.LevelErr, "unexpected event mask %x on efd %d", events[i].Events, efd)
				continue
			}

			var buf [8]byte
			if _, err := unix.Read(efd, buf[:]); err != nil {
				logging.Write("irqdemux", logging.LevelErr, "read efd %d failed: %v", efd, err)
				continue
			}

			d.mu.Lock()
			e, ok := d.entries[efd]
			d.mu.Unlock()

			if !ok {
				// sentinel eventfd: its only purpose is to end the loop.
				stop = true
				continue
			}

			e.cb()
		}

		if stop {
			return
		}
	}
}

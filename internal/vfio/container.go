package vfio

import (
	"fmt"
	"os"
	"unsafe"
)

// MaxGroups bounds the number of distinct IOMMU groups a Container will
// track, mirroring VFIO_MAX_GROUPS from the original library.
const MaxGroups = 8

// groupSlot tracks one joined IOMMU group and how many devices reference
// it, so the last device to leave can close the group fd.
type groupSlot struct {
	num      uint
	fd       int
	refCount int
}

// Container owns the VFIO container fd and the set of IOMMU groups joined
// to it. Unlike the original library, which kept a single process-global
// instance, Container is an explicit value threaded through by the caller.
type Container struct {
	fd     int
	sys    sysOps
	groups [MaxGroups]groupSlot
}

// NewContainer opens /dev/vfio/vfio and returns a Container ready to have
// groups joined to it.
func NewContainer() (*Container, error) {
	return newContainer(realSys{})
}

// newContainer is NewContainer with an injectable sysOps, so tests can
// exercise group/device bookkeeping against a Fake instead of real VFIO.
func newContainer(sys sysOps) (*Container, error) {
	fd, err := sys.Open("/dev/vfio/vfio")
	if err != nil {
		return nil, fmt.Errorf("vfio: open /dev/vfio/vfio: %w", err)
	}
	return &Container{fd: fd, sys: sys}, nil
}

// Close releases the container fd. Any still-joined groups are left open;
// callers must LeaveGroup each one first.
func (c *Container) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := c.sys.Close(c.fd)
	c.fd = -1
	return err
}

func (c *Container) slotFor(groupNum uint) *groupSlot {
	var free *groupSlot
	for i := range c.groups {
		s := &c.groups[i]
		if s.refCount > 0 && s.num == groupNum {
			return s
		}
		if s.refCount == 0 && free == nil {
			free = s
		}
	}
	return free
}

// JoinGroup opens /dev/vfio/<groupNum>, sets it to this container, and
// returns its fd. Repeated joins of the same group share one fd and are
// refcounted; the first join of a fresh container also runs VFIO_SET_IOMMU.
func (c *Container) JoinGroup(groupNum uint) (int, error) {
	slot := c.slotFor(groupNum)
	if slot == nil {
		return -1, fmt.Errorf("vfio: container already tracking %d groups: %w", MaxGroups, ErrGroupTableFull)
	}
	if slot.refCount > 0 {
		slot.refCount++
		return slot.fd, nil
	}

	path := fmt.Sprintf("/dev/vfio/%d", groupNum)
	groupFd, err := c.sys.Open(path)
	if err != nil {
		return -1, fmt.Errorf("vfio: open %s: %w", path, err)
	}

	status := GroupStatus{ArgSz: uint32(unsafe.Sizeof(GroupStatus{}))}
	if err := c.sys.IoctlPtr(groupFd, iocGroupGetStatus, unsafe.Pointer(&status)); err != nil {
		c.sys.Close(groupFd)
		return -1, fmt.Errorf("vfio: VFIO_GROUP_GET_STATUS: %w", err)
	}
	if status.Flags&GroupFlagsViable == 0 {
		c.sys.Close(groupFd)
		return -1, fmt.Errorf("vfio: group %d is not viable (check all devices are bound)", groupNum)
	}

	if status.Flags&GroupFlagsContainerSet == 0 {
		if err := c.sys.IoctlInt(groupFd, iocGroupSetContainer, c.fd); err != nil {
			c.sys.Close(groupFd)
			return -1, fmt.Errorf("vfio: VFIO_GROUP_SET_CONTAINER: %w", err)
		}
	}

	firstGroup := true
	for i := range c.groups {
		if c.groups[i].refCount > 0 {
			firstGroup = false
		}
	}
	if firstGroup {
		if err := c.sys.IoctlInt(c.fd, iocSetIOMMU, Type1IOMMU); err != nil {
			c.sys.Close(groupFd)
			return -1, fmt.Errorf("vfio: VFIO_SET_IOMMU: %w", err)
		}
	}

	slot.num = groupNum
	slot.fd = groupFd
	slot.refCount = 1
	return groupFd, nil
}

// LeaveGroup drops a reference on the group previously returned by
// JoinGroup, closing it once the last reference is gone.
func (c *Container) LeaveGroup(groupNum uint) error {
	for i := range c.groups {
		s := &c.groups[i]
		if s.refCount > 0 && s.num == groupNum {
			s.refCount--
			if s.refCount == 0 {
				err := c.sys.Close(s.fd)
				s.fd = -1
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("vfio: group %d not joined", groupNum)
}

// GroupNumFromSysfs reads /sys/bus/pci/devices/<bdf>/iommu_group, whose
// target basename is the IOMMU group number.
func GroupNumFromSysfs(bdf string) (uint, error) {
	link := fmt.Sprintf("/sys/bus/pci/devices/%s/iommu_group", bdf)
	target, err := os.Readlink(link)
	if err != nil {
		return 0, fmt.Errorf("vfio: readlink %s: %w", link, err)
	}
	var num uint
	if _, err := fmt.Sscanf(base(target), "%d", &num); err != nil {
		return 0, fmt.Errorf("vfio: parse iommu group from %q: %w", target, err)
	}
	return num, nil
}

func base(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

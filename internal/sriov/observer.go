// Package sriov reads the current VF count from sysfs and keeps the ODM
// control register's VF-count field consistent with it.
package sriov

import (
	"fmt"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"github.com/odmpf/odmpfd/internal/logging"
	"github.com/odmpf/odmpfd/internal/odmreg"
)

// MaxQueues is the total request-queue count the ODM controller splits
// evenly across however many VFs are enabled.
const MaxQueues = 32

// Observer reads sriov_numvfs from a device's sysfs entry and patches the
// ODM control register's VF-count field to match.
type Observer struct {
	sysfsPath string
	reg       odmreg.Region
	current   int
}

// NewObserver returns an Observer for the device at bdf, seeded with the
// initially-configured VF count.
func NewObserver(bdf string, reg odmreg.Region, initialNumVFs int) *Observer {
	return &Observer{
		sysfsPath: fmt.Sprintf("/sys/bus/pci/devices/%s/sriov_numvfs", bdf),
		reg:       reg,
		current:   initialNumVFs,
	}
}

// ReadNumVFs reads and parses sriov_numvfs as a hex integer.
func (o *Observer) ReadNumVFs() (int, error) {
	raw, err := os.ReadFile(o.sysfsPath)
	if err != nil {
		return 0, fmt.Errorf("sriov: read %s: %w", o.sysfsPath, err)
	}
	s := strings.TrimSpace(string(raw))
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("sriov: parse %q: %w", s, err)
	}
	return int(n), nil
}

// Observe reads the current VF count, validates it, and if it changed
// from the last observed value, recomputes queues-per-VF and rewrites
// CTL bits [5:4]. It returns the (possibly unchanged) queues-per-VF.
func (o *Observer) Observe() (int, error) {
	numVFs, err := o.ReadNumVFs()
	if err != nil {
		return 0, err
	}

	if err := validate(numVFs); err != nil {
		return 0, err
	}

	maxQPerVF := MaxQueues / numVFs

	if numVFs == o.current {
		return maxQPerVF, nil
	}

	ctl := o.reg.ReadU64(odmreg.CTL)
	field := uint64(bits.TrailingZeros(uint(numVFs)) - 1) // 2->0, 4->1, 8->2, 16->3
	ctl = (ctl &^ (0x3 << 4)) | (field << 4)
	o.reg.WriteU64(odmreg.CTL, ctl)

	logging.Write("sriov", logging.LevelInfo, "num_vfs %d -> %d, maxq_per_vf=%d", o.current, numVFs, maxQPerVF)
	o.current = numVFs
	return maxQPerVF, nil
}

func validate(numVFs int) error {
	if numVFs < 2 || numVFs > 16 {
		return fmt.Errorf("sriov: num_vfs %d out of range [2,16]", numVFs)
	}
	if numVFs&(numVFs-1) != 0 {
		return fmt.Errorf("sriov: num_vfs %d is not a power of two", numVFs)
	}
	return nil
}

// Package config validates and holds the command-line configuration for
// odmpfd, independent of cobra so it can be unit tested without a CLI.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/odmpf/odmpfd/internal/uuidcodec"
)

// Config is the validated set of knobs odmpfd was started with.
type Config struct {
	Console  bool
	LogLevel int
	SelfTest bool
	EngSel   uint32
	NumVFs   uint8
	VFToken  [uuidcodec.Len]byte
}

// validNumVFs are the only SR-IOV counts the ODM register layout supports.
var validNumVFs = map[uint8]bool{2: true, 4: true, 8: true, 16: true}

// Raw holds the flag values exactly as cobra/pflag parsed them, before
// cross-field validation and type conversion.
type Raw struct {
	Console  bool
	LogLevel int
	SelfTest bool
	EngSel   string
	NumVFs   int
	VFToken  string
}

// Validate converts and validates a Raw flag set into a Config.
func Validate(r Raw) (Config, error) {
	cfg := Config{
		Console:  r.Console,
		LogLevel: r.LogLevel,
		SelfTest: r.SelfTest,
	}

	if r.LogLevel < 0 || r.LogLevel > 7 {
		return Config{}, fmt.Errorf("invalid log level: %d", r.LogLevel)
	}

	engSel, err := parseHex32(r.EngSel)
	if err != nil {
		return Config{}, fmt.Errorf("invalid eng-sel %q: %w", r.EngSel, err)
	}
	cfg.EngSel = engSel

	if r.NumVFs < 0 || r.NumVFs > 255 || !validNumVFs[uint8(r.NumVFs)] {
		return Config{}, fmt.Errorf("invalid num-vfs %d: must be one of 2, 4, 8, 16", r.NumVFs)
	}
	cfg.NumVFs = uint8(r.NumVFs)

	if r.VFToken != "" {
		token, err := uuidcodec.Parse(r.VFToken)
		if err != nil {
			return Config{}, fmt.Errorf("invalid vfio-vf-token %q: %w", r.VFToken, err)
		}
		cfg.VFToken = token
	}

	return cfg, nil
}

func parseHex32(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		s = "AAAAAAAA"
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// Command odmpfd is the user-space Physical Function controller for a
// Marvell ODM accelerator: it binds the PF via VFIO, programs the global
// engine and DMA registers, demultiplexes MSI-X interrupts, and serves
// the PF half of the mailbox protocol until terminated.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odmpf/odmpfd/internal/config"
	"github.com/odmpf/odmpfd/internal/logging"
	"github.com/odmpf/odmpfd/internal/odm"
	"github.com/odmpf/odmpfd/internal/selftest"
)

func main() {
	var raw config.Raw

	root := &cobra.Command{
		Use:           "odmpfd",
		Short:         "User-space PF controller for the Marvell ODM accelerator",
		SilenceUsage:  false,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Validate(raw)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := root.Flags()
	flags.BoolVarP(&raw.Console, "console", "c", false, "duplicate log output to stderr")
	flags.IntVarP(&raw.LogLevel, "log-level", "l", 6, "syslog priority ceiling 0..7")
	flags.BoolVarP(&raw.SelfTest, "selftest", "s", false, "run the self-test sequence and exit")
	flags.StringVarP(&raw.EngSel, "eng-sel", "e", "0xAAAAAAAA", "32-bit engine-to-queue selector")
	flags.IntVar(&raw.NumVFs, "num-vfs", 4, "initial desired VF count (2, 4, 8, or 16)")
	flags.StringVar(&raw.VFToken, "vfio-vf-token", "", "canonical 36-char UUID for PF/VF token sharing")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logging.Init("odmpfd", cfg.LogLevel, cfg.Console)
	defer logging.Fini()

	if cfg.SelfTest {
		dev, err := odm.ProbeForSelfTest()
		if err != nil {
			return fmt.Errorf("selftest: probe: %w", err)
		}
		defer dev.Stop()

		efd, err := dev.PCI().EnableVector(selftestVector)
		if err != nil {
			return fmt.Errorf("selftest: enable vector: %w", err)
		}
		err = selftest.Run(dev.Reg(), dev.Demux(), efd)
		dev.PCI().DisableVector(selftestVector)
		return err
	}

	dev, err := odm.Start(odm.Config{
		EngSel:  cfg.EngSel,
		VFToken: cfg.VFToken,
		NumVFs:  cfg.NumVFs,
	})
	if err != nil {
		return fmt.Errorf("bring-up failed: %w", err)
	}

	logging.Write("odmpfd", logging.LevelInfo, "bring-up complete, running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	<-sigCh

	logging.Write("odmpfd", logging.LevelInfo, "SIGTERM received, shutting down")
	return dev.Stop()
}

// selftestVector is the scratch MSI-X vector index the self-test arms on
// its own throwaway device handle (odm.ProbeForSelfTest), matching
// TEST_MSIX_VEC in the original's odm_pf_selftest.c.
const selftestVector = 10

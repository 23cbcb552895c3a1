package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tc-sim/tccore/sim"
	"github.com/tc-sim/tccore/sim/regression"
)

var (
	verifyUpdate    bool   // Re-record hashes instead of checking them
	verifyMaxChunks int    // Resident chunk limit during replay
	verifyEnabled   bool   // Per-tick seeding during replay
	verifySeed      string // Base seed during replay
)

// verifyCmd replays regression fixtures and compares per-step hashes
var verifyCmd = &cobra.Command{
	Use:   "verify FIXTURE...",
	Short: "Replay regression fixtures and check their per-step hashes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := regression.ReplayOptions{
			Enabled:   verifyEnabled,
			BaseSeed:  sim.ParseSeed(verifySeed),
			MaxChunks: verifyMaxChunks,
		}
		return verifyFixtures(cmd.OutOrStdout(), args, opts, verifyUpdate)
	},
}

// verifyFixtures checks (or with update, re-records) every fixture and reports one
// line per file. All fixtures are processed; the returned error joins the failures.
func verifyFixtures(w io.Writer, paths []string, opts regression.ReplayOptions, update bool) error {
	var errs []error
	for _, path := range paths {
		f, err := regression.LoadFixture(path)
		if err != nil {
			errs = append(errs, err)
			fmt.Fprintf(w, "FAIL %s: %v\n", path, err)
			continue
		}
		if update {
			err = regression.Record(f, opts)
			if err == nil {
				err = f.Save(path)
			}
		} else {
			err = regression.Verify(f, opts)
		}
		if err != nil {
			errs = append(errs, err)
			fmt.Fprintf(w, "FAIL %s: %v\n", f.Name(), err)
			continue
		}
		logrus.Debugf("fixture %s: %d steps", f.Name(), f.Steps)
		verb := "ok"
		if update {
			verb = "recorded"
		}
		fmt.Fprintf(w, "%s %s (%d steps)\n", verb, f.Name(), f.Steps)
	}
	return errors.Join(errs...)
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyUpdate, "update", false, "Re-record fixture hashes")
	verifyCmd.Flags().IntVar(&verifyMaxChunks, "max-chunks", 1024, "Maximum resident chunks during replay")
	verifyCmd.Flags().BoolVar(&verifyEnabled, "deterministic", true, "Seed every tick during replay")
	verifyCmd.Flags().StringVar(&verifySeed, "seed", "0", "Base seed during replay")
}

package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tc-sim/tccore/sim/tape"
)

// describeCmd prints a machine descriptor after normalization
var describeCmd = &cobra.Command{
	Use:   "describe MACHINE",
	Short: "Validate a tape machine descriptor and print its normalized form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := tape.LoadDescriptor(args[0])
		if err != nil {
			return err
		}
		m, err := tape.Normalize(d)
		if err != nil {
			return err
		}
		return describeMachine(cmd.OutOrStdout(), m)
	},
}

func describeMachine(w io.Writer, m *tape.Machine) error {
	states := make([]string, 0, len(m.States))
	transitions := 0
	for s, row := range m.States {
		states = append(states, s)
		transitions += len(row)
	}
	sort.Strings(states)
	fmt.Fprintf(w, "# %s: %d symbols, %d states, %d transitions, %d wildcards\n",
		m.ID, len(m.Alphabet), len(states), transitions, len(m.Wildcards))

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m.Descriptor()); err != nil {
		return fmt.Errorf("encoding descriptor: %w", err)
	}
	return enc.Close()
}

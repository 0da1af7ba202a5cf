package main

import (
	"github.com/spf13/cobra"
	"github.com/uncomputable/tappy/state"
	"github.com/uncomputable/tappy/timelock"
)

type locktimeCommand struct {
	cmd *cobra.Command
}

func newLocktimeCommand() *cobra.Command {
	cc := &locktimeCommand{}
	cc.cmd = &cobra.Command{
		Use:   "locktime",
		Short: "Set or clear the absolute locktime of the draft",
		Long: `The locktime is a block height. It only takes effect while at
least one input has its sequence enabled, so setting it requires such an
input.`,
	}

	cc.cmd.AddCommand(
		&cobra.Command{
			Use:   "set <height>",
			Short: "Set the absolute locktime",
			Args:  cobra.ExactArgs(1),
			RunE:  cc.set,
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the absolute locktime",
			Args:  cobra.NoArgs,
			RunE:  cc.clear,
		},
	)

	return cc.cmd
}

func (c *locktimeCommand) set(_ *cobra.Command, args []string) error {
	height, err := parseHeight(args[0], timelock.LocktimeThreshold-1)
	if err != nil {
		return err
	}

	return updateState(func(st *state.State) error {
		return st.SetLocktime(uint32(height))
	})
}

func (c *locktimeCommand) clear(_ *cobra.Command, _ []string) error {
	return updateState(func(st *state.State) error {
		st.ClearLocktime()
		return nil
	})
}

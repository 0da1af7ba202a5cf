package main

import (
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/spf13/cobra"
	"github.com/uncomputable/tappy/state"
)

type outputCommand struct {
	cmd *cobra.Command
}

func newOutputCommand() *cobra.Command {
	cc := &outputCommand{}
	cc.cmd = &cobra.Command{
		Use:   "out",
		Short: "Edit the outputs of the draft",
	}

	cc.cmd.AddCommand(
		newOutputNewCommand(),
		newOutputDeleteCommand(),
	)

	return cc.cmd
}

type outputNewCommand struct {
	cmd *cobra.Command
}

func newOutputNewCommand() *cobra.Command {
	cc := &outputNewCommand{}
	cc.cmd = &cobra.Command{
		Use:   "new <index> <descriptor> [value]",
		Short: "Pay to a descriptor at the given index",
		Long: `Sets the output at the given index. Without a value the output
receives whatever is left of the inputs after all other outputs and the fee.
At most one output can omit its value.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: cc.Execute,
	}

	return cc.cmd
}

func (c *outputNewCommand) Execute(_ *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	value := fn.None[int64]()
	if len(args) == 3 {
		v, err := parseValue(args[2])
		if err != nil {
			return err
		}
		value = fn.Some(v)
	}

	return updateState(func(st *state.State) error {
		old, err := st.AddOutput(index, args[1], value)
		if err != nil {
			return err
		}
		logReplaced("output", index, old)

		return nil
	})
}

type outputDeleteCommand struct {
	cmd *cobra.Command
}

func newOutputDeleteCommand() *cobra.Command {
	cc := &outputDeleteCommand{}
	cc.cmd = &cobra.Command{
		Use:   "del <index>",
		Short: "Remove an output from the draft",
		Args:  cobra.ExactArgs(1),
		RunE:  cc.Execute,
	}

	return cc.cmd
}

func (c *outputDeleteCommand) Execute(_ *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}

	return updateState(func(st *state.State) error {
		_, err := st.DeleteOutput(index)
		return err
	})
}

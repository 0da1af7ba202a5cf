package main

import (
	"github.com/spf13/cobra"
	"github.com/uncomputable/tappy/state"
	"github.com/uncomputable/tappy/timelock"
)

type inputCommand struct {
	cmd *cobra.Command
}

func newInputCommand() *cobra.Command {
	cc := &inputCommand{}
	cc.cmd = &cobra.Command{
		Use:   "in",
		Short: "Edit the inputs of the draft",
		Long: `Inputs are addressed by their index in the transaction. An input
either spends a UTXO from the set or is created from a descriptor and bound to
an outpoint later.`,
	}

	cc.cmd.AddCommand(
		newInputNewCommand(),
		newInputDescCommand(),
		newInputBindCommand(),
		newInputDeleteCommand(),
		newInputSequenceCommand(),
	)

	return cc.cmd
}

type inputNewCommand struct {
	cmd *cobra.Command
}

func newInputNewCommand() *cobra.Command {
	cc := &inputNewCommand{}
	cc.cmd = &cobra.Command{
		Use:   "new <index> <txid:vout>",
		Short: "Spend a UTXO from the set at the given index",
		Args:  cobra.ExactArgs(2),
		RunE:  cc.Execute,
	}

	return cc.cmd
}

func (c *inputNewCommand) Execute(_ *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	op, err := parseOutPoint(args[1])
	if err != nil {
		return err
	}

	return updateState(func(st *state.State) error {
		old, err := st.AddInputFromUTXO(index, op)
		if err != nil {
			return err
		}
		logReplaced("input", index, old)

		return nil
	})
}

type inputDescCommand struct {
	cmd *cobra.Command
}

func newInputDescCommand() *cobra.Command {
	cc := &inputDescCommand{}
	cc.cmd = &cobra.Command{
		Use:   "desc <index> <descriptor>",
		Short: "Add an unbound input locked by a descriptor",
		Args:  cobra.ExactArgs(2),
		RunE:  cc.Execute,
	}

	return cc.cmd
}

func (c *inputDescCommand) Execute(_ *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}

	return updateState(func(st *state.State) error {
		old, err := st.AddInputFromDescriptor(index, args[1])
		if err != nil {
			return err
		}
		logReplaced("input", index, old)

		return nil
	})
}

type inputBindCommand struct {
	cmd *cobra.Command
}

func newInputBindCommand() *cobra.Command {
	cc := &inputBindCommand{}
	cc.cmd = &cobra.Command{
		Use:   "bind <index> <txid:vout> <value>",
		Short: "Set the outpoint and value an input spends",
		Args:  cobra.ExactArgs(3),
		RunE:  cc.Execute,
	}

	return cc.cmd
}

func (c *inputBindCommand) Execute(_ *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	op, err := parseOutPoint(args[1])
	if err != nil {
		return err
	}
	value, err := parseValue(args[2])
	if err != nil {
		return err
	}

	return updateState(func(st *state.State) error {
		return st.BindInput(index, op, value)
	})
}

type inputDeleteCommand struct {
	cmd *cobra.Command
}

func newInputDeleteCommand() *cobra.Command {
	cc := &inputDeleteCommand{}
	cc.cmd = &cobra.Command{
		Use:   "del <index>",
		Short: "Remove an input from the draft",
		Args:  cobra.ExactArgs(1),
		RunE:  cc.Execute,
	}

	return cc.cmd
}

func (c *inputDeleteCommand) Execute(_ *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}

	return updateState(func(st *state.State) error {
		_, err := st.DeleteInput(index)
		return err
	})
}

type inputSequenceCommand struct {
	cmd *cobra.Command
}

func newInputSequenceCommand() *cobra.Command {
	cc := &inputSequenceCommand{}
	cc.cmd = &cobra.Command{
		Use:   "seq",
		Short: "Switch the relative timelock of an input",
		Long: `An enabled sequence sets the relative timelock of the input to the
given number of blocks. The absolute locktime of the transaction is only
enforced while at least one input has its sequence enabled.`,
	}

	cc.cmd.AddCommand(
		&cobra.Command{
			Use:   "enable <index> <blocks>",
			Short: "Enable the relative timelock of an input",
			Args:  cobra.ExactArgs(2),
			RunE:  cc.enable,
		},
		&cobra.Command{
			Use:   "disable <index>",
			Short: "Disable the relative timelock of an input",
			Args:  cobra.ExactArgs(1),
			RunE:  cc.disable,
		},
	)

	return cc.cmd
}

func (c *inputSequenceCommand) enable(_ *cobra.Command, args []string) error {
	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}
	height, err := parseHeight(args[1], timelock.MaxRelativeHeight)
	if err != nil {
		return err
	}

	return updateState(func(st *state.State) error {
		return st.EnableSequence(index, uint16(height))
	})
}

func (c *inputSequenceCommand) disable(_ *cobra.Command,
	args []string) error {

	index, err := parseIndex(args[0])
	if err != nil {
		return err
	}

	return updateState(func(st *state.State) error {
		return st.DisableSequence(index)
	})
}

// logReplaced notes that an edit replaced an existing draft entry.
func logReplaced[T any](kind string, index uint32, old *T) {
	if old != nil {
		log.Infof("Replaced %s %d: %v", kind, index, old)
	}
}

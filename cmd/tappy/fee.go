package main

import (
	"github.com/spf13/cobra"
	"github.com/uncomputable/tappy/state"
)

type feeCommand struct {
	cmd *cobra.Command
}

func newFeeCommand() *cobra.Command {
	cc := &feeCommand{}
	cc.cmd = &cobra.Command{
		Use:   "fee <sat>",
		Short: "Set the absolute fee of the draft",
		Args:  cobra.ExactArgs(1),
		RunE:  cc.Execute,
	}

	return cc.cmd
}

func (c *feeCommand) Execute(_ *cobra.Command, args []string) error {
	fee, err := parseValue(args[0])
	if err != nil {
		return err
	}

	return updateState(func(st *state.State) error {
		return st.SetFee(fee)
	})
}

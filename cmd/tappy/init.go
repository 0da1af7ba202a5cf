package main

import (
	"github.com/spf13/cobra"
	"github.com/uncomputable/tappy/state"
)

type initCommand struct {
	cmd *cobra.Command
}

func newInitCommand() *cobra.Command {
	cc := &initCommand{}
	cc.cmd = &cobra.Command{
		Use:   "init",
		Short: "Create an empty state file",
		Long: `Creates a new state file without keys, images or UTXOs. The command
refuses to overwrite an existing state file.`,
		Example: `tappy init --statefile wallet.json`,
		Args:    cobra.NoArgs,
		RunE:    cc.Execute,
	}

	return cc.cmd
}

func (c *initCommand) Execute(_ *cobra.Command, _ []string) error {
	if _, err := state.Init(stateFile()); err != nil {
		return err
	}
	printf("Created empty state %s\n", stateFile())

	return nil
}

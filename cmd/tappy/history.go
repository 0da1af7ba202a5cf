package main

import (
	"time"

	"github.com/spf13/cobra"
)

type historyCommand struct {
	ShowHex bool

	cmd *cobra.Command
}

func newHistoryCommand() *cobra.Command {
	cc := &historyCommand{}
	cc.cmd = &cobra.Command{
		Use:   "history",
		Short: "List the transactions that were built and finalized",
		Args:  cobra.NoArgs,
		RunE:  cc.Execute,
	}
	cc.cmd.Flags().BoolVar(
		&cc.ShowHex, "hex", false, "also print the raw transactions",
	)

	return cc.cmd
}

func (c *historyCommand) Execute(_ *cobra.Command, _ []string) error {
	journal, err := openHistory()
	if err != nil {
		return err
	}
	defer func() {
		if err := journal.Close(); err != nil {
			log.Errorf("Error closing history: %v", err)
		}
	}()

	entries, err := journal.List()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		printf("%d %v %-9s fee %d sat, %d vB, %d in, %d out, %s\n",
			entry.Seq, entry.TxID, entry.Status, entry.Fee,
			entry.VSize, entry.Inputs, entry.Outputs,
			entry.Recorded.Format(time.RFC3339))
		if c.ShowHex && entry.Hex != "" {
			printf("%s\n", entry.Hex)
		}
	}

	return nil
}

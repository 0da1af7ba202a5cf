package main

import (
	"github.com/spf13/cobra"
	"github.com/uncomputable/tappy/state"
)

type utxoCommand struct {
	cmd *cobra.Command
}

func newUTXOCommand() *cobra.Command {
	cc := &utxoCommand{}
	cc.cmd = &cobra.Command{
		Use:   "utxo",
		Short: "Inspect and prune the UTXO set",
	}

	cc.cmd.AddCommand(
		newUTXOListCommand(),
		newUTXODeleteCommand(),
	)

	return cc.cmd
}

type utxoListCommand struct {
	cmd *cobra.Command
}

func newUTXOListCommand() *cobra.Command {
	cc := &utxoListCommand{}
	cc.cmd = &cobra.Command{
		Use:   "list",
		Short: "List all UTXOs ordered by outpoint",
		Args:  cobra.NoArgs,
		RunE:  cc.Execute,
	}

	return cc.cmd
}

func (c *utxoListCommand) Execute(_ *cobra.Command, _ []string) error {
	st, err := loadState()
	if err != nil {
		return err
	}

	var total int64
	for _, u := range st.SortedUTXOs() {
		printf("%v\n", u)
		total += u.Value
	}
	printf("Total: %d sat in %d UTXOs\n", total, len(st.UTXOs))

	return nil
}

type utxoDeleteCommand struct {
	cmd *cobra.Command
}

func newUTXODeleteCommand() *cobra.Command {
	cc := &utxoDeleteCommand{}
	cc.cmd = &cobra.Command{
		Use:   "del <txid:vout>",
		Short: "Forget a UTXO without spending it",
		Long: `Removes a UTXO from the set, for example after it was spent by a
transaction that was built elsewhere.`,
		Args: cobra.ExactArgs(1),
		RunE: cc.Execute,
	}

	return cc.cmd
}

func (c *utxoDeleteCommand) Execute(_ *cobra.Command, args []string) error {
	op, err := parseOutPoint(args[0])
	if err != nil {
		return err
	}

	return updateState(func(st *state.State) error {
		u, err := st.DeleteUTXO(op)
		if err != nil {
			return err
		}
		log.Infof("Deleted UTXO %v", u)

		return nil
	})
}

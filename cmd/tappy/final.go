package main

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/spf13/cobra"
	"github.com/uncomputable/tappy/spend"
	"github.com/uncomputable/tappy/state"
)

type finalCommand struct {
	Chain bool

	cmd *cobra.Command
}

func newFinalCommand() *cobra.Command {
	cc := &finalCommand{}
	cc.cmd = &cobra.Command{
		Use:   "final [txid]",
		Short: "Record the draft transaction as confirmed",
		Long: `Adds every output of the draft transaction to the UTXO set, removes
the spent UTXOs and starts an empty draft. If a txid is given, it must match
the draft. With --chain, output 0 becomes input 0 of the next draft.`,
		Args: cobra.MaximumNArgs(1),
		RunE: cc.Execute,
	}
	cc.cmd.Flags().BoolVar(
		&cc.Chain, "chain", false, "spend output 0 in the next draft",
	)

	return cc.cmd
}

func (c *finalCommand) Execute(_ *cobra.Command, args []string) error {
	txid := fn.None[chainhash.Hash]()
	if len(args) == 1 {
		hash, err := parseTxid(args[0])
		if err != nil {
			return err
		}
		txid = fn.Some(hash)
	}

	journal, err := openHistory()
	if err != nil {
		return err
	}
	defer func() {
		if err := journal.Close(); err != nil {
			log.Errorf("Error closing history: %v", err)
		}
	}()

	return updateState(func(st *state.State) error {
		final, err := spend.Finalize(st, txid, c.Chain)
		if err != nil {
			return err
		}
		if _, err := journal.MarkFinal(final.TxID); err != nil {
			return err
		}

		for _, u := range final.Created {
			printf("%v\n", u)
		}
		if final.Chained != nil {
			log.Infof("Next draft spends %v", final.Chained.OutPoint)
		}

		return nil
	})
}

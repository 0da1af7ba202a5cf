package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/uncomputable/tappy/btc"
	"github.com/uncomputable/tappy/history"
	"github.com/uncomputable/tappy/spend"
)

type spendCommand struct {
	Publish bool
	PSBT    bool

	cmd *cobra.Command
}

func newSpendCommand() *cobra.Command {
	cc := &spendCommand{}
	cc.cmd = &cobra.Command{
		Use:   "spend",
		Short: "Sign the draft and print the raw transaction",
		Long: `Assembles the draft into a transaction and satisfies every input
with the active keys and preimages: the key path if the internal key can sign,
otherwise the first leaf that can be satisfied. The state is not changed; run
"final" once the transaction confirmed.

With --psbt the unsigned draft is exported as a base64 PSBT instead, carrying
the full Taproot tree of every input.`,
		Example: `tappy spend
tappy spend --publish --apiurl https://mempool.space/signet/api`,
		Args: cobra.NoArgs,
		RunE: cc.Execute,
	}
	cc.cmd.Flags().BoolVar(
		&cc.Publish, "publish", false, "publish the signed transaction "+
			"with the Esplora API",
	)
	cc.cmd.Flags().BoolVar(
		&cc.PSBT, "psbt", false, "print the unsigned draft as PSBT "+
			"instead of signing it",
	)
	cc.cmd.MarkFlagsMutuallyExclusive("psbt", "publish")

	return cc.cmd
}

func (c *spendCommand) Execute(cmd *cobra.Command, _ []string) error {
	st, err := loadState()
	if err != nil {
		return err
	}

	if c.PSBT {
		packet, err := spend.Packet(st)
		if err != nil {
			return err
		}
		encoded, err := packet.B64Encode()
		if err != nil {
			return fmt.Errorf("error encoding PSBT: %w", err)
		}
		printf("%s\n", encoded)

		return nil
	}

	result, err := spend.Build(st)
	if err != nil {
		return err
	}
	txHex, err := result.Hex()
	if err != nil {
		return err
	}
	txid := result.Tx.TxHash()

	for i, path := range result.Paths {
		if path.KeyPath() {
			log.Infof("Input %d: key path", i)
			continue
		}
		log.Infof("Input %d: leaf %d", i, path.Leaf)
	}
	log.Infof("Transaction %v: %d vB, fee %d sat (%.2f sat/vB)", txid,
		result.VSize(), result.Fee, result.FeeRate())
	printf("%s\n", txHex)

	journal, err := openHistory()
	if err != nil {
		return err
	}
	defer func() {
		if err := journal.Close(); err != nil {
			log.Errorf("Error closing history: %v", err)
		}
	}()

	_, err = journal.Record(history.Entry{
		TxID:    txid,
		Hex:     txHex,
		Fee:     result.Fee,
		VSize:   result.VSize(),
		Inputs:  len(result.Tx.TxIn),
		Outputs: len(result.Tx.TxOut),
	})
	if err != nil {
		return err
	}

	if !c.Publish {
		return nil
	}

	api := btc.NewExplorerAPI(apiURL())
	published, err := api.PublishTx(cmd.Context(), txHex)
	if err != nil {
		return fmt.Errorf("error publishing transaction: %w", err)
	}
	printf("Published %v\n", published)

	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/spf13/cobra"
	"github.com/uncomputable/tappy/btc"
	"github.com/uncomputable/tappy/state"
)

type addrCommand struct {
	cmd *cobra.Command
}

func newAddrCommand() *cobra.Command {
	cc := &addrCommand{}
	cc.cmd = &cobra.Command{
		Use:   "addr",
		Short: "Receive funds on a descriptor address",
		Long: `Funds enter the UTXO set through the inbound address: set a
descriptor, send coins to the printed address and record the funding output
with "addr utxo".`,
	}

	cc.cmd.AddCommand(
		newAddrSetCommand(),
		newAddrUTXOCommand(),
	)

	return cc.cmd
}

type addrSetCommand struct {
	cmd *cobra.Command
}

func newAddrSetCommand() *cobra.Command {
	cc := &addrSetCommand{}
	cc.cmd = &cobra.Command{
		Use:     "set <descriptor>",
		Short:   "Set the inbound descriptor and print its address",
		Example: `tappy addr set 'tr(<K>,and_v(v:pk(<A>),older(144)))'`,
		Args:    cobra.ExactArgs(1),
		RunE:    cc.Execute,
	}

	return cc.cmd
}

func (c *addrSetCommand) Execute(_ *cobra.Command, args []string) error {
	return updateState(func(st *state.State) error {
		d, err := st.SetInboundAddress(args[0])
		if err != nil {
			return err
		}
		addr, err := address(st, st.InboundAddress)
		if err != nil {
			return err
		}
		printf("%s\n%s\n", addr, d.Checksummed())

		return nil
	})
}

type addrUTXOCommand struct {
	Lookup bool

	cmd *cobra.Command
}

func newAddrUTXOCommand() *cobra.Command {
	cc := &addrUTXOCommand{}
	cc.cmd = &cobra.Command{
		Use:   "utxo <txid:vout> [value]",
		Short: "Record the output that funded the inbound address",
		Long: `Turns the funded inbound address into a UTXO and clears the
inbound address. The value in satoshis is either given as argument or, with
--lookup, fetched from the Esplora API, which also checks that the output pays
to the inbound address.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: cc.Execute,
	}
	cc.cmd.Flags().BoolVar(
		&cc.Lookup, "lookup", false, "look up the funding output with "+
			"the Esplora API",
	)

	return cc.cmd
}

func (c *addrUTXOCommand) Execute(cmd *cobra.Command, args []string) error {
	op, err := parseOutPoint(args[0])
	if err != nil {
		return err
	}

	var value int64 = -1
	if len(args) == 2 {
		value, err = parseValue(args[1])
		if err != nil {
			return err
		}
	}
	if value < 0 && !c.Lookup {
		return errors.New("either a value or --lookup is required")
	}

	return updateState(func(st *state.State) error {
		if c.Lookup {
			found, err := lookupFunding(cmd.Context(), st, op)
			if err != nil {
				return err
			}
			if value >= 0 && value != found {
				return fmt.Errorf("output %v has %d sat, not %d",
					op, found, value)
			}
			value = found
		}

		u, err := st.ReceiveInbound(op, value)
		if err != nil {
			return err
		}
		printf("%v\n", u)

		return nil
	})
}

func lookupFunding(ctx context.Context, st *state.State,
	op wire.OutPoint) (int64, error) {

	if st.InboundAddress == "" {
		return 0, state.ErrMissingAddress
	}
	tree, err := compile(st, st.InboundAddress)
	if err != nil {
		return 0, err
	}
	pkScript, err := tree.PkScript()
	if err != nil {
		return 0, err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	vout, err := btc.NewExplorerAPI(apiURL()).FundingOutput(
		ctx, op, pkScript,
	)
	if err != nil {
		return 0, err
	}

	return vout.Value, nil
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/uncomputable/tappy/state"
	"github.com/uncomputable/tappy/taptree"
)

type printCommand struct {
	cmd *cobra.Command
}

func newPrintCommand() *cobra.Command {
	cc := &printCommand{}
	cc.cmd = &cobra.Command{
		Use:   "print",
		Short: "Print the secret store, the UTXO set and the draft",
		Long: `Prints everything the state file holds. Secrets and preimages are
never printed, only whether they are known.`,
		Args: cobra.NoArgs,
		RunE: cc.Execute,
	}

	return cc.cmd
}

func (c *printCommand) Execute(_ *cobra.Command, _ []string) error {
	st, err := loadState()
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("Keys:\n")
	for _, pair := range st.Store.Keys() {
		fmt.Fprintf(&b, "  %s %s\n", pair.PubKeyHex(),
			flags(pair.HasSecret(), "secret", "public", pair.Active))
	}
	b.WriteString("Images:\n")
	for _, pair := range st.Store.Images() {
		fmt.Fprintf(&b, "  %s %s\n", pair.ImageHex(),
			flags(pair.HasPreimage(), "preimage", "image", pair.Active))
	}

	b.WriteString("UTXOs:\n")
	for _, u := range st.SortedUTXOs() {
		fmt.Fprintf(&b, "  %v\n", u)
	}

	if st.InboundAddress != "" {
		addr, err := address(st, st.InboundAddress)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "Inbound address: %s %s\n", addr,
			st.InboundAddress)
	}

	b.WriteString("Draft:\n")
	for _, i := range st.Draft.InputIndexes() {
		fmt.Fprintf(&b, "  in %d: %v\n", i, st.Draft.Inputs[i])
	}
	for _, i := range st.Draft.OutputIndexes() {
		fmt.Fprintf(&b, "  out %d: %v\n", i, st.Draft.Outputs[i])
	}
	fmt.Fprintf(&b, "  fee: %d sat\n", st.Draft.Fee)
	if st.Draft.Locktime != nil {
		fmt.Fprintf(&b, "  locktime: %d (active: %v)\n",
			*st.Draft.Locktime, st.Draft.LocktimeActive())
	}

	printf("%s", b.String())

	return nil
}

func flags(known bool, yes, no string, active bool) string {
	kind := no
	if known {
		kind = yes
	}
	if !active {
		return kind + " inactive"
	}

	return kind + " active"
}

// address returns the P2TR address of a descriptor on the selected network.
func address(st *state.State, desc string) (string, error) {
	tree, err := compile(st, desc)
	if err != nil {
		return "", err
	}
	addr, err := tree.Address(chainParams)
	if err != nil {
		return "", err
	}

	return addr.EncodeAddress(), nil
}

func compile(st *state.State, desc string) (*taptree.TapTree, error) {
	d, err := st.ParseDescriptor(desc)
	if err != nil {
		return nil, err
	}

	return taptree.Compile(d)
}

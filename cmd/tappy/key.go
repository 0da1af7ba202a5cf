package main

import (
	"github.com/spf13/cobra"
	"github.com/uncomputable/tappy/secrets"
	"github.com/uncomputable/tappy/state"
)

type keyCommand struct {
	cmd *cobra.Command
}

func newKeyCommand() *cobra.Command {
	cc := &keyCommand{}
	cc.cmd = &cobra.Command{
		Use:   "key",
		Short: "Manage the key pairs of the secret store",
		Long: `Keys are identified by their x-only public key. Keys are never
removed from the store, they can only be disabled. A disabled key can still be
used in descriptors but is never used for signing.`,
	}

	cc.cmd.AddCommand(
		newKeyGenCommand(),
		newKeyImportCommand(),
		newKeyExportCommand(),
		newKeyToggleCommand("enable", true),
		newKeyToggleCommand("disable", false),
	)

	return cc.cmd
}

type keyGenCommand struct {
	cmd *cobra.Command
}

func newKeyGenCommand() *cobra.Command {
	cc := &keyGenCommand{}
	cc.cmd = &cobra.Command{
		Use:   "gen",
		Short: "Generate a new active key pair",
		Args:  cobra.NoArgs,
		RunE:  cc.Execute,
	}

	return cc.cmd
}

func (c *keyGenCommand) Execute(_ *cobra.Command, _ []string) error {
	return updateState(func(st *state.State) error {
		pair, err := st.Store.GenerateKey()
		if err != nil {
			return err
		}
		printf("%s\n", pair.PubKeyHex())

		return nil
	})
}

type keyImportCommand struct {
	PublicOnly bool

	cmd *cobra.Command
}

func newKeyImportCommand() *cobra.Command {
	cc := &keyImportCommand{}
	cc.cmd = &cobra.Command{
		Use:   "import <wif|hex>",
		Short: "Import a key pair or a public key",
		Long: `Imports a secret key given as WIF or as 32 byte hex. With --public
the argument is an x-only public key instead; importing its secret later
upgrades the entry.`,
		Example: `tappy key import cVt4o7BGAig1UXywgGSmARhxMdzP5qvQsxKkSsc1XEkw3tDTQFpy
tappy key import --public \
	79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798`,
		Args: cobra.ExactArgs(1),
		RunE: cc.Execute,
	}
	cc.cmd.Flags().BoolVar(
		&cc.PublicOnly, "public", false, "import an x-only public key "+
			"without its secret",
	)

	return cc.cmd
}

func (c *keyImportCommand) Execute(_ *cobra.Command, args []string) error {
	return updateState(func(st *state.State) error {
		pair, err := st.Store.ImportKey(args[0], c.PublicOnly)
		if err != nil {
			return err
		}
		printf("%s\n", pair.PubKeyHex())

		return nil
	})
}

type keyExportCommand struct {
	cmd *cobra.Command
}

func newKeyExportCommand() *cobra.Command {
	cc := &keyExportCommand{}
	cc.cmd = &cobra.Command{
		Use:   "export <pubkey>",
		Short: "Print the secret of a key as WIF",
		Args:  cobra.ExactArgs(1),
		RunE:  cc.Execute,
	}

	return cc.cmd
}

func (c *keyExportCommand) Execute(_ *cobra.Command, args []string) error {
	st, err := loadState()
	if err != nil {
		return err
	}

	pubKey, err := secrets.ParsePubKey(args[0])
	if err != nil {
		return err
	}
	pair, ok := st.Store.Key(pubKey)
	if !ok {
		return secrets.ErrUnknownKey
	}
	wif, err := pair.WIF(chainParams)
	if err != nil {
		return err
	}
	printf("%s\n", wif)

	return nil
}

type keyToggleCommand struct {
	active bool

	cmd *cobra.Command
}

func newKeyToggleCommand(use string, active bool) *cobra.Command {
	cc := &keyToggleCommand{active: active}
	cc.cmd = &cobra.Command{
		Use:   use + " <pubkey>",
		Short: "Mark a key as usable for signing or not",
		Args:  cobra.ExactArgs(1),
		RunE:  cc.Execute,
	}
	if !active {
		cc.cmd.Short = "Stop using a key for signing"
	}

	return cc.cmd
}

func (c *keyToggleCommand) Execute(_ *cobra.Command, args []string) error {
	pubKey, err := secrets.ParsePubKey(args[0])
	if err != nil {
		return err
	}

	return updateState(func(st *state.State) error {
		return st.Store.SetKeyActive(pubKey, c.active)
	})
}

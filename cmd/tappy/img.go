package main

import (
	"github.com/spf13/cobra"
	"github.com/uncomputable/tappy/secrets"
	"github.com/uncomputable/tappy/state"
)

type imageCommand struct {
	cmd *cobra.Command
}

func newImageCommand() *cobra.Command {
	cc := &imageCommand{}
	cc.cmd = &cobra.Command{
		Use:   "img",
		Short: "Manage the hash preimages of the secret store",
		Long: `Images are SHA-256 hashes of 32 byte preimages and are used by the
sha256() fragment. Like keys they are never removed, only disabled.`,
	}

	cc.cmd.AddCommand(
		newImageGenCommand(),
		newImageImportCommand(),
		newImageToggleCommand("enable", true),
		newImageToggleCommand("disable", false),
	)

	return cc.cmd
}

type imageGenCommand struct {
	cmd *cobra.Command
}

func newImageGenCommand() *cobra.Command {
	cc := &imageGenCommand{}
	cc.cmd = &cobra.Command{
		Use:   "gen",
		Short: "Generate a random preimage and print its image",
		Args:  cobra.NoArgs,
		RunE:  cc.Execute,
	}

	return cc.cmd
}

func (c *imageGenCommand) Execute(_ *cobra.Command, _ []string) error {
	return updateState(func(st *state.State) error {
		pair, err := st.Store.GenerateImage()
		if err != nil {
			return err
		}
		printf("%s\n", pair.ImageHex())

		return nil
	})
}

type imageImportCommand struct {
	ImageOnly bool

	cmd *cobra.Command
}

func newImageImportCommand() *cobra.Command {
	cc := &imageImportCommand{}
	cc.cmd = &cobra.Command{
		Use:   "import <hex>",
		Short: "Import a preimage or an image",
		Long: `Imports a 32 byte preimage. With --image the argument is the image
itself, so the hash lock can be used in descriptors but not satisfied.`,
		Args: cobra.ExactArgs(1),
		RunE: cc.Execute,
	}
	cc.cmd.Flags().BoolVar(
		&cc.ImageOnly, "image", false, "import an image without its "+
			"preimage",
	)

	return cc.cmd
}

func (c *imageImportCommand) Execute(_ *cobra.Command, args []string) error {
	return updateState(func(st *state.State) error {
		pair, err := st.Store.ImportImage(args[0], c.ImageOnly)
		if err != nil {
			return err
		}
		printf("%s\n", pair.ImageHex())

		return nil
	})
}

type imageToggleCommand struct {
	active bool

	cmd *cobra.Command
}

func newImageToggleCommand(use string, active bool) *cobra.Command {
	cc := &imageToggleCommand{active: active}
	cc.cmd = &cobra.Command{
		Use:   use + " <image>",
		Short: "Mark a preimage as revealable or not",
		Args:  cobra.ExactArgs(1),
		RunE:  cc.Execute,
	}

	return cc.cmd
}

func (c *imageToggleCommand) Execute(_ *cobra.Command, args []string) error {
	image, err := secrets.ParseImage(args[0])
	if err != nil {
		return err
	}

	return updateState(func(st *state.State) error {
		return st.Store.SetImageActive(image, c.active)
	})
}

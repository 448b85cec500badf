package main

import (
	"fmt"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"nostr-threads/internal/export"
	"nostr-threads/internal/nips"
	"nostr-threads/internal/util"
)

const qrPNGSize = 512

type qrOptions struct {
	PNG string
}

func newQRCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &qrOptions{}
	cmd := &cobra.Command{
		Use:   "qr <ref>",
		Short: "Print a QR code of the thread's nostr:nevent link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQR(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.PNG, "png", "", "write a PNG to this path instead of printing")
	return cmd
}

func runQR(cmd *cobra.Command, rootOpts *rootOptions, opts *qrOptions, ref string) error {
	parsed, err := nips.ParseEventRef(ref)
	if err != nil {
		return err
	}
	uri, err := export.ShareURI(parsed.ID, parsed.Author, util.UniqueStrings(parsed.RelayHints, rootOpts.Relays))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if opts.PNG != "" {
		if err := qrcode.WriteFile(uri, qrcode.Medium, qrPNGSize, opts.PNG); err != nil {
			return fmt.Errorf("writing %s: %w", opts.PNG, err)
		}
		fmt.Fprintln(w, uri)
		return nil
	}

	code, err := export.QRCodeTerminal(uri)
	if err != nil {
		return err
	}
	fmt.Fprint(w, code)
	fmt.Fprintln(w, uri)
	return nil
}

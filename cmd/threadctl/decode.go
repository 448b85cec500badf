package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nostr-threads/internal/nips"
)

type decodeResult struct {
	ID     string   `json:"id"`
	Note   string   `json:"note"`
	Author string   `json:"author,omitempty"`
	Relays []string `json:"relays"`
}

func newDecodeCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <ref>",
		Short: "Decode a hex id, note1 or nevent1 reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := nips.ParseEventRef(args[0])
			if err != nil {
				return err
			}
			note, err := nips.EncodeEventID(ref.ID)
			if err != nil {
				return err
			}
			res := decodeResult{ID: ref.ID, Note: note, Author: ref.Author, Relays: ref.RelayHints}
			if res.Relays == nil {
				res.Relays = []string{}
			}

			w := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return json.NewEncoder(w).Encode(res)
			}
			fmt.Fprintf(w, "id:     %s\nnote:   %s\n", res.ID, res.Note)
			if res.Author != "" {
				fmt.Fprintf(w, "author: %s\n", res.Author)
			}
			if len(res.Relays) > 0 {
				fmt.Fprintf(w, "relays: %s\n", strings.Join(res.Relays, ", "))
			}
			return nil
		},
	}
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"nostr-threads/internal/export"
	"nostr-threads/internal/thread"
)

type exportOptions struct {
	Output string
	Depth  int
	More   int
}

func newExportCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export <ref>",
		Short: "Write a thread as a standalone HTML page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "-", "output file (- for stdout)")
	cmd.Flags().IntVarP(&opts.Depth, "depth", "d", 0, "maximum reply depth to fetch (default from config)")
	cmd.Flags().IntVar(&opts.More, "more", 0, "extra fetch rounds past the depth and page caps")
	return cmd
}

func runExport(cmd *cobra.Command, rootOpts *rootOptions, opts *exportOptions, ref string) error {
	th, err := rootOpts.reconstruct(cmd, ref, thread.Options{MaxDepth: opts.Depth}, opts.More)
	if err != nil {
		return err
	}
	doc := export.FromThread(th, thread.FlattenOptions{IncludeNested: true, MaxDepth: -1})

	var w io.Writer = cmd.OutOrStdout()
	if opts.Output != "-" && opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", opts.Output, err)
		}
		defer f.Close()
		w = f
	}
	if err := export.Render(w, doc); err != nil {
		return err
	}
	if opts.Output != "-" && opts.Output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d notes to %s\n", len(doc.Notes), opts.Output)
	}
	return nil
}

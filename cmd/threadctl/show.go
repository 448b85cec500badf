package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nostr-threads/internal/nostr"
	"nostr-threads/internal/thread"
	"nostr-threads/internal/types"
)

// errThreadNotFound is returned after printing a thread no relay had.
var errThreadNotFound = errors.New("thread not found")

// previewWidth caps the content preview per line in text output.
const previewWidth = 72

type showOptions struct {
	Depth    int
	PageSize int
	Hint     string
	More     int
	Flat     bool
}

type showNode struct {
	ID    string      `json:"id"`
	Depth int         `json:"depth"`
	Event types.Event `json:"event"`
}

type showResult struct {
	RootID   string     `json:"root_id"`
	Nodes    []showNode `json:"nodes"`
	HasMore  bool       `json:"has_more"`
	NotFound bool       `json:"not_found"`
	Degraded bool       `json:"degraded"`
	Stage    string     `json:"stage"`
	Relays   []string   `json:"relays"`
}

func newShowCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &showOptions{}
	cmd := &cobra.Command{
		Use:   "show <ref>",
		Short: "Print a thread as an indented tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().IntVarP(&opts.Depth, "depth", "d", 0, "maximum reply depth to fetch (default from config)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "events per relay query (default from config)")
	cmd.Flags().StringVar(&opts.Hint, "hint", "", "event known to belong to the thread")
	cmd.Flags().IntVar(&opts.More, "more", 0, "extra fetch rounds past the depth and page caps")
	cmd.Flags().BoolVar(&opts.Flat, "flat", false, "only the root and its direct replies")
	return cmd
}

func runShow(cmd *cobra.Command, rootOpts *rootOptions, opts *showOptions, ref string) error {
	th, err := rootOpts.reconstruct(cmd, ref, thread.Options{
		MaxDepth:      opts.Depth,
		PageSize:      opts.PageSize,
		HintedEventID: opts.Hint,
	}, opts.More)
	if err != nil {
		return err
	}

	nodes := th.Flatten(thread.FlattenOptions{IncludeNested: !opts.Flat, MaxDepth: -1})
	w := cmd.OutOrStdout()

	if rootOpts.Format == "json" {
		res := showResult{
			RootID:   th.RootID(),
			Nodes:    make([]showNode, len(nodes)),
			HasMore:  th.HasMore(),
			NotFound: th.NotFound(),
			Degraded: th.Degraded(),
			Stage:    th.Stage().String(),
			Relays:   th.Relays(),
		}
		for i, n := range nodes {
			res.Nodes[i] = showNode{ID: n.ID, Depth: n.Depth, Event: n.Event}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printTree(w, nodes)
		fmt.Fprintf(w, "\nstage=%s relays=%d has_more=%t degraded=%t\n",
			th.Stage(), len(th.Relays()), th.HasMore(), th.Degraded())
	}

	if th.NotFound() {
		return fmt.Errorf("%w: %s", errThreadNotFound, nostr.ShortID(th.RootID()))
	}
	return nil
}

func printTree(w io.Writer, nodes thread.FlatList) {
	for _, n := range nodes {
		fmt.Fprintf(w, "%s%s %s %s  %s\n",
			strings.Repeat("  ", n.Depth),
			nostr.ShortID(n.ID),
			nostr.ShortID(n.Event.PubKey),
			time.Unix(n.Event.CreatedAt, 0).UTC().Format("2006-01-02 15:04"),
			preview(n.Event.Content))
	}
}

// preview returns the first line of content, cut to previewWidth runes.
func preview(content string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	r := []rune(line)
	if len(r) > previewWidth {
		return string(r[:previewWidth-1]) + "…"
	}
	return line
}

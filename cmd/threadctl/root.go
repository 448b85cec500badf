package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"nostr-threads/internal/cache"
	"nostr-threads/internal/config"
	"nostr-threads/internal/relay"
	"nostr-threads/internal/thread"
)

// validFormats are the accepted --format values.
var validFormats = []string{"text", "json"}

// engineFactory builds an engine and returns a cleanup func releasing its
// connections.
type engineFactory func(cfg *config.EngineConfig, logger *slog.Logger) (*thread.Engine, func(), error)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Relays     []string
	Format     string
	Verbose    bool

	newEngine engineFactory
}

func newRootCommand(factory engineFactory) *cobra.Command {
	opts := &rootOptions{newEngine: factory}

	cmd := &cobra.Command{
		Use:   "threadctl",
		Short: "Reconstruct Nostr reply threads",
		Long: `threadctl fetches a Nostr thread from relays, rebuilds its reply tree
and prints, exports or shares it.

References may be 64-char hex ids, note1 or nevent1 strings.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "engine config file (JSON or YAML)")
	cmd.PersistentFlags().StringSliceVarP(&opts.Relays, "relays", "r", nil, "relays to query first (comma separated)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on stderr")

	cmd.AddCommand(newShowCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newQRCommand(opts))
	cmd.AddCommand(newDecodeCommand(opts))
	return cmd
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) config() (*config.EngineConfig, error) {
	if o.ConfigPath == "" {
		return config.Get(), nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// reconstruct builds an engine and opens ref in a session, then runs up to
// more FetchMore rounds while the thread reports more to fetch. Cancelling
// the command context closes the session, so late results are discarded.
func (o *rootOptions) reconstruct(cmd *cobra.Command, ref string, topts thread.Options, more int) (*thread.Thread, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	engine, cleanup, err := o.newEngine(cfg, o.logger(cmd.ErrOrStderr()))
	if err != nil {
		return nil, err
	}
	defer cleanup()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	topts.Relays = o.Relays
	session := thread.NewSession(engine)
	stop := context.AfterFunc(ctx, session.Close)
	defer stop()

	th, err := session.Open(ctx, ref, topts)
	if err != nil {
		return nil, err
	}
	for i := 0; i < more && th.HasMore(); i++ {
		if err := th.FetchMore(ctx); err != nil {
			return nil, err
		}
	}
	return th, nil
}

func defaultEngine(cfg *config.EngineConfig, logger *slog.Logger) (*thread.Engine, func(), error) {
	backend, _ := cache.Open(os.Getenv("REDIS_URL"), logger)
	pool := relay.NewPool(relay.WithQueryTimeout(cfg.QueryTimeout.Std()), relay.WithLogger(logger))
	cleanup := func() {
		pool.Close()
		backend.Close()
	}

	cacheCfg := cache.CacheConfigFromEnv()
	discovery := relay.NewDiscovery(pool, cache.NewRelayListStore(backend, cacheCfg), relay.DiscoveryConfig{
		Indexers:        cfg.Relays.Indexer,
		RelaysPerAuthor: cfg.RelaysPerAuthor,
	}, logger)

	engine, err := thread.NewEngine(thread.Deps{
		Transport: pool,
		Events:    cache.NewEventStore(backend, cacheCfg),
		Threads:   cache.NewThreadStore(backend, cacheCfg),
		Discovery: discovery,
		Config:    cfg,
		Logger:    logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return engine, cleanup, nil
}

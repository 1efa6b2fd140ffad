package main

import (
	"context"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/songzhibin97/dolphin-sync/config"
	"github.com/songzhibin97/dolphin-sync/engine"
	"github.com/songzhibin97/dolphin-sync/lineage"
	"github.com/songzhibin97/dolphin-sync/logging"
	"github.com/songzhibin97/dolphin-sync/storage"
	"github.com/songzhibin97/dolphin-sync/syncer"
)

// generalOptions defines flags shared by every command.
type generalOptions struct {
	configPath string
	mode       string
	logLevel   string
	storeDSN   string
}

func newGeneralOptions() *generalOptions {
	return &generalOptions{}
}

// addFlags binds the shared flags as persistent flags of cmd.
func (o *generalOptions) addFlags(cmd *cobra.Command) {
	if o == nil {
		return
	}

	cmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "path of the config file")
	cmd.PersistentFlags().StringVar(&o.mode, "mode", "", "ingest mode: legacy, export_shadow or export_only")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "log level")
	cmd.PersistentFlags().StringVar(&o.storeDSN, "store-dsn", "", "catalog dsn")
}

// load reads the config file and applies the flags that were set.
func (o *generalOptions) load(cmd *cobra.Command) (*config.Config, error) {
	overrides := make(map[string]interface{})
	if cmd.Flags().Changed("mode") {
		overrides["sync.mode"] = o.mode
	}
	if cmd.Flags().Changed("log-level") {
		overrides["log.level"] = o.logLevel
	}
	if cmd.Flags().Changed("store-dsn") {
		overrides["store.dsn"] = o.storeDSN
	}
	return config.Load(o.configPath, overrides)
}

// app holds the wired dependencies of one command run.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	svc     *syncer.Service
	closers []func() error
}

// newApp opens the catalog and builds the sync service from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	matcher, err := a.newMatcher()
	if err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	client := engine.NewHTTPClient(engine.HTTPClientOptions{
		BaseURL:       cfg.Engine.BaseURL,
		Token:         cfg.Engine.Token,
		Timeout:       cfg.Engine.Timeout,
		MaxRetries:    cfg.Engine.MaxRetries,
		RetryInterval: cfg.Engine.RetryInterval,
	}, logger.Named("engine"))

	a.svc, err = syncer.NewService(store, client, matcher,
		syncer.WithMode(cfg.Sync.IngestMode()),
		syncer.WithStrictEdges(cfg.Sync.StrictEdges),
		syncer.WithDataSourceCheck(cfg.Sync.DataSourceCheck),
		syncer.WithDiffContext(cfg.Sync.DiffContext),
		syncer.WithLogger(logger.Named("syncer")),
	)
	if err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	switch a.cfg.Store.Driver {
	case "sqlite":
		store, err := storage.OpenSQLite(a.cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "postgres":
		store, err := storage.OpenPostgres(ctx, a.cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
	a.logger.Warn("using the in-memory catalog, nothing is persisted")
	return storage.NewMemoryStore(), nil
}

func (a *app) newMatcher() (lineage.Matcher, error) {
	cfg := a.cfg
	var matcher lineage.Matcher = lineage.NewHTTPMatcher(lineage.HTTPMatcherOptions{
		BaseURL:       cfg.Matcher.BaseURL,
		Timeout:       cfg.Matcher.Timeout,
		MaxRetries:    cfg.Matcher.MaxRetries,
		RetryInterval: cfg.Matcher.RetryInterval,
	}, a.logger.Named("matcher"))

	var cache storage.Cache
	switch cfg.Cache.Driver {
	case "memory":
		cache = storage.NewMemoryCache()
	case "redis":
		rc, err := storage.NewRedisCache(storage.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Prefix:   cfg.Cache.Prefix,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		cache = rc
	default:
		return matcher, nil
	}
	return lineage.NewCachedMatcher(matcher, cache, cfg.Matcher.CacheTTL, a.logger.Named("matcher")), nil
}

// Close releases the catalog and cache connections.
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return err
}

// withApp loads the config, runs fn against a fresh app and closes it.
func (o *generalOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.Close())
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// newCmdRoot creates the `dsync` command.
func newCmdRoot() *cobra.Command {
	o := newGeneralOptions()

	cmds := &cobra.Command{
		Use:          "dsync",
		Short:        "Sync scheduler workflows into the catalog",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}

	o.addFlags(cmds)
	cmds.AddCommand(newCmdServe(o))
	cmds.AddCommand(newCmdPreview(o))
	cmds.AddCommand(newCmdCommit(o))
	cmds.AddCommand(newCmdSyncProject(o))
	cmds.AddCommand(newCmdVersions(o))
	cmds.AddCommand(newCmdDiff(o))
	cmds.AddCommand(newCmdRollback(o))
	cmds.AddCommand(newCmdDeleteVersion(o))

	return cmds
}

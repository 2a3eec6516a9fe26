// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, logger construction and database opening
// to reduce boilerplate across commands.
package appctx

import (
	"context"
	"fmt"

	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/db"
	"github.com/hopsworks/expat/internal/logging"
	"github.com/hopsworks/expat/internal/platform"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Global flag names shared by every command.
const (
	FlagConfig    = "config"
	FlagDryRun    = "dry-run"
	FlagLogLevel  = "log-level"
	FlagLogFormat = "log-format"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded configuration, flags already applied
	Config *config.Config

	// Log is the root logger
	Log *zap.Logger

	// DryRun is true when mutations must be suppressed
	DryRun bool

	// DB is the opened database (nil if NeedsDB is false)
	DB *db.DB
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
	if a.Log != nil {
		_ = a.Log.Sync()
	}
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsDB indicates whether to open the relational store.
	NeedsDB bool

	// NeedsLedger makes sure the run ledger tables exist.
	// Implies NeedsDB.
	NeedsLedger bool
}

// DefaultOptions returns default options (no database).
func DefaultOptions() Options {
	return Options{}
}

// WithDB returns options that open the relational store read only.
func WithDB() Options {
	return Options{NeedsDB: true}
}

// WithLedger returns options that open the relational store and prepare
// the run ledger.
func WithLedger() Options {
	return Options{NeedsDB: true, NeedsLedger: true}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The database is closed automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	cfg, err := config.Load(flagString(cmd, FlagConfig))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Flags override every configuration source
	if f := cmd.Flag(FlagDryRun); f != nil && f.Changed {
		cfg.Set(config.KeyDryRun, f.Value.String() == "true")
	}
	if v := flagString(cmd, FlagLogLevel); v != "" {
		cfg.Set(config.KeyLogLevel, v)
	}
	if v := flagString(cmd, FlagLogFormat); v != "" {
		cfg.Set(config.KeyLogFormat, v)
	}

	log, err := logging.New(cfg.String(config.KeyLogLevel), cfg.String(config.KeyLogFormat))
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Log: log, DryRun: cfg.DryRun()}
	if cfg.File() != "" {
		log.Debug("loaded config file", zap.String("file", cfg.File()))
	}

	if opts.NeedsDB || opts.NeedsLedger {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		var database *db.DB
		if opts.NeedsLedger {
			database, err = platform.OpenLedger(ctx, cfg, log)
		} else {
			database, err = platform.OpenDB(ctx, cfg)
		}
		if err != nil {
			app.Close()
			return nil, err
		}
		app.DB = database
	}

	return app, nil
}

func flagString(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}

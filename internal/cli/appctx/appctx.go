// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, logger setup and destination opening to
// reduce boilerplate across commands.
package appctx

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lherron/channelport/internal/annotation"
	"github.com/lherron/channelport/internal/channelimport"
	"github.com/lherron/channelport/internal/config"
	"github.com/lherron/channelport/internal/db"
	"github.com/lherron/channelport/internal/logging"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded configuration, with flag overrides applied
	Config *config.Config

	// DB is the opened destination (nil if NeedsDB is false)
	DB *db.DB

	Logger zerolog.Logger
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
}

// Service returns an import service over the App's destination, with the
// SQL annotation hooks attached.
func (a *App) Service() *channelimport.Service {
	return channelimport.NewService(a.DB, channelimport.ServiceConfig{
		ContentDir: a.Config.ContentDir,
		BatchSize:  a.Config.BatchSize,
		Hooks:      annotation.New(a.DB, a.Logger),
		Logger:     a.Logger,
	})
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsDB indicates whether to open the destination.
	NeedsDB bool

	// AllowPending skips the pending-migration check. Only the migrate
	// command sets it.
	AllowPending bool
}

// DefaultOptions returns default options (migrated destination required).
func DefaultOptions() Options {
	return Options{NeedsDB: true}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The destination is closed automatically when the wrapped function returns.
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
	app := &App{}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfg

	if v := flagValue(cmd, "db"); v != "" {
		cfg.DBURL = v
	}
	if v := flagValue(cmd, "content-dir"); v != "" {
		cfg.ContentDir = v
	}
	if v := flagValue(cmd, "log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := flagValue(cmd, "batch-size"); v != "" && v != "0" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid --batch-size %q: %w", v, err)
		}
		cfg.BatchSize = n
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app.Logger, err = logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	if opts.NeedsDB {
		database, err := db.Open(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		if !opts.AllowPending {
			if err := database.RequiresMigrationError(contextOf(cmd)); err != nil {
				database.Close()
				return nil, err
			}
		}
		app.DB = database
	}

	return app, nil
}

func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

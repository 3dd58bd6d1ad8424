package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/provmap/internal/config"
	"github.com/zjrosen/provmap/internal/identity"
	"github.com/zjrosen/provmap/internal/infrastructure/sqlite"
	"github.com/zjrosen/provmap/internal/log"
	"github.com/zjrosen/provmap/internal/manager"
	"github.com/zjrosen/provmap/internal/metrics"
	"github.com/zjrosen/provmap/internal/providermap"
	"github.com/zjrosen/provmap/internal/tracing"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	userFlag  int
	cfg       config.Config

	// mgr is opened by setup for every command that touches providers.
	mgr      *manager.Manager
	repo     *sqlite.Repository
	met      *metrics.Metrics
	cleanups []func()
)

var rootCmd = &cobra.Command{
	Use:   "provmap",
	Short: "Inspect and edit the published content provider map",
	Long: `provmap keeps the map of published content providers, indexed both by
authority and by provider class. Providers owned by system uids are visible
to every user; all others are visible only to the user that owns them.

The map is stored in a SQLite database so that it survives between
invocations.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/provmap/config.yaml)")
	rootCmd.PersistentFlags().String("db", "",
		"path to the provider database (default: ~/.config/provmap/providers.db)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (also PROVMAP_DEBUG)")
	rootCmd.PersistentFlags().IntVarP(&userFlag, "user", "u", int(providermap.CurrentUser),
		"user to act for (default: caller.user from config)")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("identity.first_application_uid", defaults.Identity.FirstApplicationUID)
	viper.SetDefault("identity.per_user_range", defaults.Identity.PerUserRange)
	viper.SetDefault("caller.user", defaults.Caller.User)
	viper.SetDefault("store.path", defaults.Store.Path)
	viper.SetDefault("removed.retention", defaults.Removed.Retention)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	_ = viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("db"))

	if cfgFile != "" {
		// An explicit path that does not exist yet gets the defaults.
		if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
			if writeErr := config.WriteDefaultConfig(cfgFile); writeErr != nil {
				log.Warn(log.CatConfig, "could not write default config", "path", cfgFile, "error", writeErr)
			}
		}
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .provmap/config.yaml (current directory)
		// 2. ~/.config/provmap/config.yaml (user config)
		if _, err := os.Stat(".provmap/config.yaml"); err == nil {
			viper.SetConfigFile(".provmap/config.yaml")
		} else {
			viper.AddConfigPath(config.DefaultConfigDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			defaultPath := filepath.Join(config.DefaultConfigDir(), "config.yaml")
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		} else {
			log.Warn(log.CatConfig, "could not read config", "path", viper.ConfigFileUsed(), "error", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// setup opens the store, restores the provider map and builds the manager.
func setup(cmd *cobra.Command, _ []string) error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if os.Getenv("PROVMAP_DEBUG") != "" || debugFlag {
		logPath := os.Getenv("PROVMAP_LOG")
		if logPath == "" {
			logPath = filepath.Join(filepath.Dir(cfg.StorePath()), "debug.log")
		}
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		cleanups = append(cleanups, cleanup)
		log.Info(log.CatCLI, "provmap starting", "command", cmd.CommandPath(), "config", viper.ConfigFileUsed())
	}

	db, err := sqlite.NewDB(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("opening provider database: %w", err)
	}
	cleanups = append(cleanups, func() { _ = db.Close() })
	repo = db.Repository()

	traceCfg := cfg.Tracing
	traceCfg.FilePath = cfg.TracePath()
	tp, err := tracing.NewProvider(traceCfg)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	cleanups = append(cleanups, func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.ErrorErr(log.CatTrace, "tracing shutdown failed", err)
		}
	})

	met = metrics.New()
	mgr = manager.New(manager.Options{
		Identity:  cfg.Identity.Policy(),
		Caller:    identity.Fixed(providermap.UserID(cfg.Caller.User)),
		Store:     repo,
		Tracer:    tp.Tracer(),
		Metrics:   met,
		Retention: cfg.Removed.Retention,
	})
	if err := mgr.Restore(cmd.Context()); err != nil {
		return fmt.Errorf("restoring providers: %w", err)
	}
	return nil
}

// teardown releases everything setup opened, newest first.
func teardown() {
	if mgr != nil {
		mgr.Close()
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
	mgr = nil
	repo = nil
	met = nil
}

// user returns the --user flag as a user id; negative means the caller.
func user() providermap.UserID {
	return providermap.UserID(userFlag)
}

// Execute runs the root command
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer teardown()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

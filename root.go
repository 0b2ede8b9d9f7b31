package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloudferry/cloudferry/internal/apiclient"
	"github.com/cloudferry/cloudferry/internal/cloudfile"
	"github.com/cloudferry/cloudferry/internal/config"
	"github.com/cloudferry/cloudferry/internal/provider"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// appCtx holds the effective configuration and shared clients built by
// PersistentPreRunE, available to all subcommands.
var appCtx *CLIContext

// CLIContext carries the resolved config and the clients subcommands share.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	API    *apiclient.Client
	HTTP   *http.Client
}

// Adapter builds the provider adapter for p using the shared clients.
func (cc *CLIContext) Adapter(p cloudfile.Provider) (provider.Adapter, error) {
	chunkSize, err := cc.Cfg.ChunkSizeBytes()
	if err != nil {
		return nil, err
	}

	return provider.New(p, provider.Deps{
		API:       cc.API,
		HTTP:      cc.HTTP,
		Logger:    cc.Logger,
		ChunkSize: chunkSize,
	})
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cloudferry",
		Short:   "Cross-provider cloud file transfer",
		Long:    "Browse, search, and transfer files between Google Drive, Google Photos, and OneDrive.",
		Version: version,
		// Silence Cobra's default error/usage printing — main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initContext()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newTransferCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newWhoamiCmd())

	return cmd
}

// initContext resolves configuration and builds the shared clients.
func initContext() error {
	cfg, err := config.Resolve(config.ReadEnvOverrides(), flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if cfg.API.BaseURL == "" {
		return fmt.Errorf("no broker URL configured: set api.base_url or %s", config.EnvAPIURL)
	}

	httpClient := &http.Client{Timeout: connectTimeout(cfg)}

	api := apiclient.NewClient(
		cfg.API.BaseURL,
		httpClient,
		apiclient.StaticToken(cfg.API.Token),
		logger,
		apiclient.WithUserAgent(cfg.Network.UserAgent),
		apiclient.WithRateLimit(cfg.Network.RequestsPerSecond, cfg.Network.Burst),
	)

	appCtx = &CLIContext{
		Cfg:    cfg,
		Logger: logger,
		API:    api,
		HTTP:   httpClient,
	}

	return nil
}

// newLogger builds the slog logger per config and verbosity flags.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func connectTimeout(cfg *config.Config) time.Duration {
	d, err := time.ParseDuration(cfg.Network.ConnectTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}

	return d
}

// parseProvider resolves a user-supplied provider name, accepting a few
// common aliases.
func parseProvider(s string) (cloudfile.Provider, error) {
	switch s {
	case "google", "drive", "googledrive":
		return cloudfile.GoogleDrive, nil
	case "googlephotos", "photos":
		return cloudfile.GooglePhotos, nil
	case "onedrive":
		return cloudfile.OneDrive, nil
	default:
		return "", fmt.Errorf("unknown provider %q (use google, googlephotos, or onedrive)", s)
	}
}

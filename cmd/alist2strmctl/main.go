// Package main implements the alist2strmctl command-line tool: one-shot
// synchronization runs and configuration checks against the same config.yaml
// the alist2strmd daemon reads.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/cybozu-go/alist2strm/internal/alist"
	"github.com/cybozu-go/alist2strm/internal/config"
	"github.com/cybozu-go/alist2strm/internal/fetch"
	"github.com/cybozu-go/alist2strm/internal/logging"
	"github.com/cybozu-go/alist2strm/internal/mirror"
)

const (
	defaultConfigPath  = "config/config.yaml"
	defaultPingTimeout = 10 * time.Second
)

var (
	version = "dev"

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "alist2strmctl",
	Short: "Run and inspect alist2strm mirror sources from the command line",
	Long: `alist2strmctl drives one-shot synchronization runs against the same
config.yaml the alist2strmd daemon uses, without needing the daemon's cron
scheduler or HTTP control plane running.`,
}

var syncCmd = &cobra.Command{
	Use:   "sync [source-ids...]",
	Short: "Synchronize one or more configured sources",
	Long: `Synchronizes one or more sources based on the provided configuration.

Usage:
  # Synchronize every source in the configuration file
  alist2strmctl sync

  # Synchronize only specific sources
  alist2strmctl sync movies anime

  # Use a custom configuration file
  alist2strmctl sync --config /path/to/config.yaml

  # Force Alist to refresh its directory cache before listing
  alist2strmctl sync --refresh`,
	Run: runSync,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("alist2strmctl %s\n", version)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Run:   runValidate,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("help", "h", false, "help for alist2strmctl")

	syncCmd.Flags().Bool("refresh", false, "force the remote server to refresh its directory cache before listing")
	syncCmd.Flags().Bool("quiet", false, "suppress the progress bar")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Newf("configuration file not found: %s", configPath)
		}
		return nil, err
	}
	return cfg, nil
}

func runSync(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logCfg := &logging.Config{Level: "info", Format: "text"}
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	if cfg.Settings.Dev {
		logCfg.Level = "debug"
	}
	if _, err := logCfg.Apply(); err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}

	sources := cfg.Alist2StrmList
	if len(args) > 0 {
		sources = nil
		for _, id := range args {
			src := cfg.Find(id)
			if src == nil {
				slog.Error("source not found in configuration", "source", id)
				os.Exit(1)
			}
			sources = append(sources, src)
		}
	}
	if len(sources) == 0 {
		slog.Warn("no sources to synchronize")
		return
	}

	refresh, _ := cmd.Flags().GetBool("refresh")
	quiet, _ := cmd.Flags().GetBool("quiet")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := mirror.NewEngine(fetch.NewClient())

	exitCode := 0
	for _, src := range sources {
		if err := runOne(ctx, engine, src, refresh, quiet); err != nil {
			slog.Error("sync failed", "source", src.ID, "error", err)
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

func runOne(ctx context.Context, engine *mirror.Engine, src *config.Source, refresh, quiet bool) error {
	var bar *pb.ProgressBar
	if !quiet {
		bar = pb.New(0)
		bar.SetTemplateString(fmt.Sprintf(`{{ "%s:" }} {{counters . }} entries {{speed . "%%s/s"}} {{etime .}}`, src.ID))
		bar.Start()
		defer bar.Finish()
		engine.OnEntryDone = func(path string, action mirror.Action, err error) {
			bar.Increment()
		}
	}

	return engine.Run(ctx, src, refresh, "")
}

func runValidate(_ *cobra.Command, _ []string) {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ids := make([]string, 0, len(cfg.Alist2StrmList))
	for _, src := range cfg.Alist2StrmList {
		ids = append(ids, src.ID)
	}
	sort.Strings(ids)

	slog.Info("configuration is valid", "path", configPath, "sources", ids)

	if cfg.Settings.EnableAPI {
		slog.Info("control API is enabled", "host", cfg.Settings.APIHost, "port", cfg.Settings.APIPort)
	}

	for _, src := range cfg.Alist2StrmList {
		client := alist.NewClient(src.RemoteBaseURL, src.Username, src.Password, src.Token)
		if err := pingSource(client); err != nil {
			slog.Warn("source unreachable", "source", src.ID, "url", src.RemoteBaseURL, "error", err)
		}
	}
}

func pingSource(client *alist.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	_, err := client.List(ctx, "/", false, false)
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

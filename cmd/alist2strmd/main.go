// Package main implements the alist2strmd daemon: a cron scheduler, an
// HTTP control plane, and a webhook endpoint, all funneling into the
// single-flight task supervisor that drives the mirror engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/cybozu-go/alist2strm/internal/alist"
	"github.com/cybozu-go/alist2strm/internal/config"
	"github.com/cybozu-go/alist2strm/internal/fetch"
	"github.com/cybozu-go/alist2strm/internal/logging"
	"github.com/cybozu-go/alist2strm/internal/mirror"
	"github.com/cybozu-go/alist2strm/internal/notify"
	"github.com/cybozu-go/alist2strm/internal/task"
	"github.com/cybozu-go/alist2strm/internal/trigger"
)

var (
	version = "dev"

	configPath string
	baseDir    string
)

var rootCmd = &cobra.Command{
	Use:   "alist2strmd",
	Short: "Mirror an Alist-style cloud filesystem into local .strm files",
	Long: `alist2strmd periodically mirrors one or more Alist-style remote
directories into a local tree of .strm locator files, driven by a cron
schedule, an HTTP control API, and a webhook endpoint.`,
	Run: runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", ".", "base directory for logs and relative paths")
	rootCmd.Flags().BoolP("version", "v", false, "print version information and exit")
}

func runDaemon(cmd *cobra.Command, _ []string) {
	if v, _ := cmd.Flags().GetBool("version"); v {
		fmt.Printf("alist2strmd %s\n", version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Error("configuration file not found", "path", configPath)
		} else {
			slog.Error("failed to load configuration", "error", err, "path", configPath)
		}
		os.Exit(1)
	}

	logCfg := &logging.Config{
		Level:    "info",
		Format:   "text",
		FilePath: cfg.Settings.LogFilePath(baseDir),
	}
	if cfg.Settings.Dev {
		logCfg.Level = "debug"
	}
	closer, err := logCfg.Apply()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	sourcesByID := make(map[string]*config.Source, len(cfg.Alist2StrmList))
	for _, src := range cfg.Alist2StrmList {
		sourcesByID[src.ID] = src
	}

	fetcher := fetch.NewClient()
	engine := mirror.NewEngine(fetcher)

	notifier := notify.NewTelegram(cfg.Settings.TelegramAPIKey, cfg.Settings.TelegramUserID)

	sup := task.NewSupervisor(sourcesByID, engine.Run, func(ctx context.Context, msg string) {
		if err := notifier.Send(ctx, msg); err != nil {
			slog.Warn("notification failed", "error", err)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sup.Run(ctx)

	scheduler := trigger.NewScheduler()
	for _, src := range cfg.Alist2StrmList {
		if src.Cron == "" {
			continue
		}
		src := src
		if err := scheduler.AddJob(src.ID, src.Cron, func(ctx context.Context) {
			if result := sup.Submit(src.ID, false, ""); result != task.ResultAdmitted {
				slog.Debug("cron tick skipped, task already queued or running", "task_id", src.ID, "result", result)
			}
		}); err != nil {
			slog.Error("failed to schedule cron job", "source", src.ID, "error", err)
		}
	}
	go scheduler.Run(ctx)

	var servers []*http.Server
	if cfg.Settings.EnableAPI {
		apiServer := &trigger.APIServer{
			Token:      cfg.Settings.APIToken,
			Supervisor: sup,
			Scheduler:  scheduler,
			LogDir:     filepath.Join(baseDir, "logs"),
		}
		webhookServer := &trigger.WebhookServer{
			Token:      cfg.Settings.WebhookToken,
			Supervisor: sup,
			Sources:    sourcesByID,
			NewRemoteClient: func(src *config.Source) trigger.RemoteTreeRefresher {
				return alist.NewClient(src.RemoteBaseURL, src.Username, src.Password, src.Token)
			},
		}

		mux := http.NewServeMux()
		mux.Handle("/api/", apiServer.Handler())
		mux.Handle("/webhooks/", webhookServer.Handler())

		addr := fmt.Sprintf("%s:%d", cfg.Settings.APIHost, cfg.Settings.APIPort)
		srv := &http.Server{Addr: addr, Handler: mux}
		servers = append(servers, srv)

		go func() {
			slog.Info("control API listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("control API server failed", "error", err)
				os.Exit(1)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		srv.Shutdown(shutdownCtx)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sydlexius/rosterimport/internal/api"
	"github.com/sydlexius/rosterimport/internal/api/middleware"
	"github.com/sydlexius/rosterimport/internal/backup"
	"github.com/sydlexius/rosterimport/internal/config"
	"github.com/sydlexius/rosterimport/internal/database"
	"github.com/sydlexius/rosterimport/internal/event"
	"github.com/sydlexius/rosterimport/internal/logging"
	"github.com/sydlexius/rosterimport/internal/maintenance"
	"github.com/sydlexius/rosterimport/internal/player"
	"github.com/sydlexius/rosterimport/internal/roster"
	"github.com/sydlexius/rosterimport/internal/version"
	"github.com/sydlexius/rosterimport/internal/watcher"
	"github.com/sydlexius/rosterimport/internal/webhook"
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	serve := func(cmd *cobra.Command, args []string) error {
		return run(cfgPath)
	}

	root := &cobra.Command{
		Use:          "rosterimport",
		Short:        "Roster import service with duplicate review",
		Args:         cobra.NoArgs,
		RunE:         serve,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "path to config.yaml (env RI_CONFIG_PATH)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})
	root.AddCommand(previewCmd(&cfgPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rosterimport %s (%s)\n", version.Version, version.Commit)
		},
	})
	return root
}

func previewCmd(cfgPath *string) *cobra.Command {
	var format string
	var compact bool
	cmd := &cobra.Command{
		Use:   "preview <file>",
		Short: "Dry-run a roster file against the registry and print the preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := roster.ParseFormat(format)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			pretty := !compact && isTerminal(out)
			return previewFile(*cfgPath, args[0], f, out, pretty)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "csv, tsv or xlsx (default: from file extension)")
	cmd.Flags().BoolVar(&compact, "compact", false, "print single-line JSON even on a terminal")
	return cmd
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func defaultConfigPath() string {
	if p := os.Getenv("RI_CONFIG_PATH"); p != "" {
		return p
	}
	return "/data/config.yaml"
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logManager, logger := logging.NewManager(logging.FromConfig(cfg.Logging))
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	matchCfg := matchConfig(cfg.Matching)
	if err := matchCfg.Validate(); err != nil {
		return fmt.Errorf("matching config: %w", err)
	}
	hooks, err := webhooks(cfg.Webhooks)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()
	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	// Initialize event bus
	eventBus := event.NewBus(logger, 256)
	eventBus.SubscribeAll(event.ImportTypes(), logEvent(logger))
	dispatcher := webhook.NewDispatcher(hooks, nil, logger)
	dispatcher.Subscribe(eventBus)
	defer dispatcher.Wait()
	go eventBus.Start()
	defer eventBus.Stop()

	// Initialize services
	playerService := player.NewService(db)
	historyService := roster.NewHistoryService(db)
	jobStore := roster.NewJobStore(cfg.Import.JobTTL, cfg.Import.MaxPendingJobs)
	jobStore.SetEventBus(eventBus)
	matcher := roster.NewMatcher(playerService, matchCfg)

	previewService := roster.NewService(matcher, jobStore, cfg.Import.PreviewSampleSize, logger)
	previewService.SetEventBus(eventBus)
	executor := roster.NewExecutor(jobStore, playerService, historyService, logger)
	executor.SetEventBus(eventBus)

	var backupService *backup.Service
	if cfg.Backup.Enabled {
		backupService = backup.NewService(db, cfg.Backup.Dir, cfg.Backup.Retention, logger)
		executor.SetSnapshotter(backupService)
	}
	maintenanceService := maintenance.NewService(db, cfg.Database.Path, cfg.Database.OptimizeInterval, logger)

	logger.Info("starting rosterimport",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.Duration("job_ttl", cfg.Import.JobTTL),
		slog.Float64("match_threshold", matchCfg.Threshold),
		slog.Bool("backup_before_execute", cfg.Backup.Enabled),
		slog.Int("webhooks", len(hooks)),
	)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go jobStore.Run(ctx, sweepInterval(cfg.Import.JobTTL))
	go maintenanceService.StartScheduler(ctx)
	if cfg.Inbox.Dir != "" {
		inbox := watcher.NewInbox(cfg.Inbox.Dir, previewService, cfg.Inbox.Debounce, logger)
		go func() {
			if err := inbox.Start(ctx); err != nil {
				logger.Error("inbox watcher", "error", err)
			}
		}()
	}
	go watchReload(ctx, cfgPath, logManager, logger)

	uploadLimiter := middleware.NewUploadLimiter(ctx, cfg.Import.UploadRatePerMinute, 5)
	if err := uploadLimiter.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	router := api.NewRouter(api.RouterDeps{
		PreviewService:     previewService,
		Executor:           executor,
		HistoryService:     historyService,
		PlayerService:      playerService,
		JobStore:           jobStore,
		BackupService:      backupService,
		MaintenanceService: maintenanceService,
		UploadLimiter:      uploadLimiter,
		DB:                 db,
		Logger:             logger,
		BasePath:           cfg.Server.BasePath,
		MaxUploadBytes:     cfg.MaxUploadBytes(),
		CORSOrigins:        cfg.Server.CORSOrigins,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("serving http: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openDatabase(path string) (*sql.DB, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func matchConfig(m config.MatchingConfig) roster.MatchConfig {
	return roster.MatchConfig{
		Threshold:       m.Threshold,
		FuzzyThreshold:  m.FuzzyThreshold,
		RequireLastName: m.RequireLastName,
		Workers:         m.Workers,
		Weights: roster.Weights{
			FirstName:      m.Weights.FirstName,
			FirstNameFuzzy: m.Weights.FirstNameFuzzy,
			LastName:       m.Weights.LastName,
			LastNameFuzzy:  m.Weights.LastNameFuzzy,
			Team:           m.Weights.Team,
			League:         m.Weights.League,
			DateOfBirth:    m.Weights.DateOfBirth,
			Position:       m.Weights.Position,
		},
	}
}

func webhooks(cfgs []config.WebhookConfig) ([]webhook.Webhook, error) {
	hooks := make([]webhook.Webhook, 0, len(cfgs))
	for _, c := range cfgs {
		w := webhook.Webhook{Name: c.Name, URL: c.URL, Type: c.Type, Events: c.Events}
		if err := w.Validate(); err != nil {
			return nil, fmt.Errorf("webhook config: %w", err)
		}
		hooks = append(hooks, w)
	}
	return hooks, nil
}

// sweepInterval checks for expired jobs a few times per TTL.
func sweepInterval(ttl time.Duration) time.Duration {
	return min(max(ttl/4, time.Second), time.Minute)
}

func logEvent(logger *slog.Logger) event.Handler {
	return func(e event.Event) {
		attrs := make([]any, 0, 2*len(e.Data)+2)
		attrs = append(attrs, slog.String("type", string(e.Type)))
		for k, v := range e.Data {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.Debug("event", attrs...)
	}
}

// watchReload re-reads the logging section of the config file on SIGHUP.
func watchReload(ctx context.Context, path string, mgr *logging.Manager, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(path)
			if err != nil {
				logger.Error("reloading config", "path", path, "error", err)
				continue
			}
			next := logging.FromConfig(cfg.Logging)
			mgr.Reconfigure(next)
			logger.Info("logging reconfigured", slog.String("config", next.String()))
		}
	}
}

// previewFile runs a dry-run preview of path against the configured
// registry and writes the ImportPreview as JSON. No player is created
// or modified.
func previewFile(cfgPath, path string, format roster.Format, out io.Writer, pretty bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logCfg := logging.FromConfig(cfg.Logging)
	logCfg.FilePath = ""
	logCfg.Stdout = os.Stderr
	logManager, logger := logging.NewManager(logCfg)
	defer logManager.Close() //nolint:errcheck

	matchCfg := matchConfig(cfg.Matching)
	if err := matchCfg.Validate(); err != nil {
		return fmt.Errorf("matching config: %w", err)
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	db, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	if format == roster.FormatAuto {
		format = roster.FormatFromFilename(path)
	}
	store := roster.NewJobStore(cfg.Import.JobTTL, 1)
	svc := roster.NewService(roster.NewMatcher(player.NewService(db), matchCfg), store, cfg.Import.PreviewSampleSize, logger)

	preview, err := svc.Preview(context.Background(), data, roster.PreviewOptions{
		Format: format,
		Source: filepath.Base(path),
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(preview)
}

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"payment-reconciliation-service/internal/config"
	"payment-reconciliation-service/internal/extractor"
	"payment-reconciliation-service/internal/ledger"
	"payment-reconciliation-service/internal/matcher"
	"payment-reconciliation-service/internal/notify"
	"payment-reconciliation-service/internal/reconciler"
	"payment-reconciliation-service/internal/server"
	"payment-reconciliation-service/internal/storage"
	"payment-reconciliation-service/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciliation daemon",
	Long: `Starts the HTTP API, the background matching sweep, and the wallet
ledger against the configured database.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logLevel := cfg.Log.Level
	if verbose {
		logLevel = "debug"
	}
	log, err := logger.NewLogger(&logger.Config{
		Level:  logger.Level(logLevel),
		Format: logger.Format(cfg.Log.Format),
		Output: os.Stderr,
	})
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	if err := storage.Migrate(db); err != nil {
		return err
	}

	extractorCfg, err := cfg.ExtractorConfig()
	if err != nil {
		return err
	}

	ledgerService := ledger.NewService(db)
	reconcilerService := reconciler.NewService(
		db,
		extractor.New(extractorCfg),
		matcher.NewEngine(cfg.MatcherConfig()),
		ledgerService,
		notify.NewLogNotifier(),
	)

	var sweeper *reconciler.Sweeper
	if cfg.Sweep.Enabled {
		sweeper = reconciler.NewSweeper(reconcilerService, cfg.Sweep.Schedule)
		if err := sweeper.Start(); err != nil {
			return err
		}
	}

	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, reconcilerService, ledgerService)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if sweeper != nil {
		sweeper.Stop()
	}
	return srv.Shutdown()
}

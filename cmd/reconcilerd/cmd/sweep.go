package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"payment-reconciliation-service/internal/config"
	"payment-reconciliation-service/internal/extractor"
	"payment-reconciliation-service/internal/ledger"
	"payment-reconciliation-service/internal/matcher"
	"payment-reconciliation-service/internal/notify"
	"payment-reconciliation-service/internal/reconciler"
	"payment-reconciliation-service/internal/storage"
	"payment-reconciliation-service/pkg/logger"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single matching sweep and exit",
	Long: `Runs one pass over the waiting notification records: re-attempts
candidate matching for each and escalates stale records to the
operator queue. Useful from an external scheduler when the daemon's
built-in cron sweep is disabled.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
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

	reconcilerService := reconciler.NewService(
		db,
		extractor.New(extractorCfg),
		matcher.NewEngine(cfg.MatcherConfig()),
		ledger.NewService(db),
		notify.NewLogNotifier(),
	)

	sweeper := reconciler.NewSweeper(reconcilerService, cfg.Sweep.Schedule)
	return sweeper.RunOnce(cmd.Context())
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/fleet-portal/internal/session"
	sessionPostgres "github.com/frahmantamala/fleet-portal/internal/session/postgres"
	"github.com/frahmantamala/fleet-portal/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background maintenance workers",
}

var sessionSweepCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Delete expired server-side sessions on an interval",
	Long:  `Periodically remove expired rows from portal_sessions when the database session store is used`,
	Run: func(cmd *cobra.Command, args []string) {
		startSessionSweeper()
	},
}

var (
	sweepInterval time.Duration
	sweepOnce     bool
)

func startSessionSweeper() {
	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Environment, config.Observability.Logging.Level)
	lg := logger.LoggerWrapper()

	if config.Database.Source == "" {
		fmt.Fprintln(os.Stderr, "Session sweeper needs database.source")
		os.Exit(1)
	}

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open gorm: %v\n", err)
		os.Exit(1)
	}
	repo := sessionPostgres.NewSessionRepository(gdb)

	if sweepOnce {
		sweep(context.Background(), repo)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	lg.Info("session sweeper is running. Press Ctrl+C to stop.", "interval", sweepInterval)
	sweep(ctx, repo)
	for {
		select {
		case <-ctx.Done():
			lg.Info("session sweeper stopped")
			return
		case <-ticker.C:
			sweep(ctx, repo)
		}
	}
}

func sweep(ctx context.Context, repo session.RepositoryAPI) {
	lg := logger.LoggerWrapper()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		lg.Error("failed to delete expired sessions", "error", err)
		return
	}
	lg.Info("expired sessions deleted", "count", n)
}

func init() {
	sessionSweepCmd.Flags().DurationVar(&sweepInterval, "interval", 15*time.Minute, "time between sweeps")
	sessionSweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "sweep once and exit")

	workerCmd.AddCommand(sessionSweepCmd)
	rootCmd.AddCommand(workerCmd)
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/fleet-portal/internal/access"
	"github.com/frahmantamala/fleet-portal/internal/backend/mockserver"
	"github.com/frahmantamala/fleet-portal/pkg/logger"
)

var (
	mockAddr    string
	mockLatency time.Duration
	mockRecords string
)

var mockBackendCmd = &cobra.Command{
	Use:   "mock-backend",
	Short: "Run an in-memory fleet backend for local development",
	Long: `Serve the four backend endpoints the gateway consumes, seeded with demo accounts
(admin, operator and an inactive user, all with password "password").`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMockBackend(cmd.Context())
	},
}

func runMockBackend(ctx context.Context) error {
	logger.Init("development")
	lg := logger.LoggerWrapper()

	mock := mockserver.New(lg)
	if err := mock.Seed(); err != nil {
		return fmt.Errorf("failed to seed mock backend: %w", err)
	}
	if mockRecords != "" {
		records, err := readRecords(mockRecords)
		if err != nil {
			return err
		}
		mock.SetRecords(records)
	}
	mock.SetLatency(mockLatency)

	server := &http.Server{
		Addr:              mockAddr,
		Handler:           mock.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		lg.Info("mock backend listening", "address", mockAddr, "password", mockserver.DemoPassword)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// readRecords loads a JSON array of permission records.
func readRecords(path string) ([]access.PermissionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	var records []access.PermissionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse records %s: %w", path, err)
	}
	return records, nil
}

func init() {
	mockBackendCmd.Flags().StringVar(&mockAddr, "addr", ":9090", "listen address")
	mockBackendCmd.Flags().DurationVar(&mockLatency, "latency", 0, "delay added to every response")
	mockBackendCmd.Flags().StringVar(&mockRecords, "records", "", "JSON file with permission records replacing the demo ones")
}

package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	auditPostgres "github.com/frahmantamala/fleet-portal/internal/audit/postgres"
)

var eventCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect recorded session events",
}

var recentEventsCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the newest sign-in, sign-out and invalidation events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.Database.Source == "" {
			return fmt.Errorf("events: database.source is not configured")
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		rows, err := auditPostgres.NewAuditRepository(db).ListRecent(ctx, eventUserID, eventLimit)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "OCCURRED\tTYPE\tUSER\tREASON\tPATH")
		for _, e := range rows {
			user := e.Username
			if user == "" {
				user = e.UserID
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.OccurredAt.Format(time.RFC3339), e.Type, user, e.Reason, e.Path)
		}
		return w.Flush()
	},
}

var (
	eventUserID string
	eventLimit  int
)

func init() {
	recentEventsCmd.Flags().StringVar(&eventUserID, "user", "", "only events of this user id")
	recentEventsCmd.Flags().IntVar(&eventLimit, "limit", 50, "maximum number of events")

	eventCmd.AddCommand(recentEventsCmd)
	rootCmd.AddCommand(eventCmd)
}

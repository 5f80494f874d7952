package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replydesk/replydesk/internal/config"
	"github.com/replydesk/replydesk/internal/db"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "replydesk",
		Short: "Multi-tenant messaging inbox with bot-driven replies",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config.toml")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and ingest workers",
		Run: func(cmd *cobra.Command, args []string) {
			runServe(cfgPath)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return db.Migrate(cfg.Postgres)
		},
	}

	root.AddCommand(serveCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

/*
Copyright © 2024 xeBook
*/
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xebook/readium-encrypt/internal/db"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the resource ledger migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DB.URL == "" {
			return errors.New("no database configured: set db.url or DB_URL")
		}
		client, err := db.NewClient(cmd.Context(), cfg.DB.URL)
		if err != nil {
			slog.Error("could not establish database connection", slog.String("error", err.Error()))
			return err
		}
		defer client.Close()

		applied, err := client.RunMigrations(cmd.Context(), cfg.DB.Atlas)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) applied\n", applied)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

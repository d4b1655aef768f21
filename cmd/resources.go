/*
Copyright © 2024 xeBook
*/
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xebook/readium-encrypt/internal/db"
)

// resourcesCmd represents the resources command
var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List recently encrypted resources",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DB.URL == "" {
			return errors.New("no database configured: set db.url or DB_URL")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")

		client, err := db.NewClient(cmd.Context(), cfg.DB.URL)
		if err != nil {
			return err
		}
		defer client.Close()

		records, err := client.ListResources(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return renderRecords(cmd.OutOrStdout(), format, records)
	},
}

func init() {
	rootCmd.AddCommand(resourcesCmd)

	resourcesCmd.Flags().IntP("limit", "n", 50, "maximum number of resources")
	resourcesCmd.Flags().StringP("format", "f", "table", "output format: table or json")
}

func renderRecords(w io.Writer, format string, records []db.Record) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "", "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSOURCE\tTYPE\tLENGTH\tLICENSED\tUPDATED")
		for _, rec := range records {
			r := rec.Resource
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\n",
				r.ID(), r.Source(), r.Type(), r.Length(), r.SendToLicenseServer(), rec.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

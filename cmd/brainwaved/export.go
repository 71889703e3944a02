package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wongchs/brainwaved/internal/server"
	"github.com/wongchs/brainwaved/internal/store"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export seizure history as CSV",
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default: stdout)")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg.LogLevel)

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("migrating store: %w", err)
	}

	profile, err := db.GetProfile(cmd.Context())
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}
	records, err := db.ListSeizures(cmd.Context(), profile.ID, 0)
	if err != nil {
		return fmt.Errorf("listing seizures: %w", err)
	}

	out := os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("creating %s: %w", exportOut, err)
		}
		defer f.Close()
		out = f
	}
	return server.WriteSeizureCSV(out, records)
}

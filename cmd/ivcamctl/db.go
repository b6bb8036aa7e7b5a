package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/repository/sqlite"
)

var dbPath string

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect a SQLite detection log",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the detection log schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		fmt.Printf("✅ Schema ready in %s\n", dbPath)
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stored detections",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		summary, err := repo.Summary()
		if err != nil {
			return err
		}

		fmt.Printf("Vehicles: %d (avg confidence %.2f)\n", summary.Vehicles, summary.AvgVehicleConfidence)
		fmt.Printf("Other objects: %d (avg confidence %.2f)\n", summary.Objects, summary.AvgObjectConfidence)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "KIND\tTYPE\tCOUNT")
		fmt.Fprintln(w, "----\t----\t-----")
		printCounts(w, "vehicle", summary.VehicleTypes)
		printCounts(w, "object", summary.ObjectTypes)
		w.Flush()
		return nil
	},
}

func openRepository() (*sqlite.DetectionRepository, error) {
	if dbPath == "" {
		dbPath = cfg.StorePath
	}
	if dbPath == "" || dbPath == ":memory:" {
		return nil, fmt.Errorf("no database file: pass --db or set STORE_PATH")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlite.New(dbPath)
	if err != nil {
		return nil, err
	}
	return sqlite.NewDetectionRepository(db), nil
}

func printCounts(w *tabwriter.Writer, kind string, counts map[string]int) {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%s\t%d\n", kind, t, counts[t])
	}
}

func init() {
	dbCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default: STORE_PATH)")
	dbCmd.AddCommand(dbMigrateCmd, dbStatsCmd)
	rootCmd.AddCommand(dbCmd)
}

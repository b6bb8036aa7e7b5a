package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var exportDir string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show detection service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		health, err := newClient().Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("detection service unreachable at %s: %w", cfg.DetectionAPIURL, err)
		}
		fmt.Printf("Status: %s\nDetections processed: %d\n", health.Status, health.DetectionsProcessed)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download the vehicle and object CSV exports",
	RunE: func(cmd *cobra.Command, args []string) error {
		export, err := newClient().Export(cmd.Context())
		if err != nil {
			return err
		}
		if err := os.MkdirAll(exportDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		now := time.Now()
		for _, kind := range []string{"vehicles", "objects"} {
			name, body, _ := export.File(kind, now)
			if body == "" {
				fmt.Printf("No %s to export\n", kind)
				continue
			}
			path := filepath.Join(exportDir, name)
			if err := os.WriteFile(path, []byte(body), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Printf("📄 %s\n", path)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportDir, "out", "o", ".", "output directory")
	rootCmd.AddCommand(healthCmd, exportCmd)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/client"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/config"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfg *config.Config
	log *logger.Logger

	apiURL  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "ivcamctl",
	Short:         "Probe cameras and talk to the vehicle detection service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if apiURL != "" {
			cfg.DetectionAPIURL = strings.TrimRight(apiURL, "/")
		}
		log = logger.NewWithWriter(os.Stderr, verbose)
		return nil
	},
}

func newClient() *client.Client {
	return client.New(cfg, log)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "detection service base URL (default: DETECTION_API_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log requests at debug level")
}

func main() {
	Execute()
}

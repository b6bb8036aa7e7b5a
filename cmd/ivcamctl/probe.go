package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/retry"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/source"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video/opencv"
)

var probeSources string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Find the first camera source that yields frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		values := cfg.CameraSources
		if probeSources != "" {
			values = strings.Split(probeSources, ",")
		}
		candidates, err := model.ParseDescriptors(values)
		if err != nil {
			return err
		}

		hints := video.Hints{Width: cfg.CameraWidth, Height: cfg.CameraHeight, FPS: cfg.CameraFPS}
		prober := source.NewProber(opencv.NewOpener(), retry.FixedPolicy(cfg.ProbeAttempts, cfg.ProbeDelay), hints, log)

		handle, desc, err := prober.Probe(cmd.Context(), candidates)
		if err != nil {
			return err
		}
		defer handle.Release()

		fmt.Printf("✅ Source %s is delivering frames\n", desc)
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeSources, "sources", "", "comma separated candidates, e.g. \"1@dshow,0@dshow,0\" (default: CAMERA_SOURCES)")
	rootCmd.AddCommand(probeCmd)
}

package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/retry"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video/opencv"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/worker"
)

var detectCmd = &cobra.Command{
	Use:   "detect IMAGE...",
	Short: "Run one-shot vehicle detection on image files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		encoder := opencv.NewEncoder(cfg.JPEGQuality)
		w := worker.New(0, newClient(), encoder, nil, nil, worker.Options{
			Source:         service.ManualUploadSource,
			PollInterval:   cfg.PollInterval,
			MaxWait:        cfg.PollMaxWait,
			RequestTimeout: cfg.RequestTimeout,
			Backoff:        retry.ExponentialPolicy(0, cfg.FailureBackoff, cfg.FailureBackoffMax),
		}, nil, log)

		bar := progressbar.NewOptions(len(args),
			progressbar.OptionSetDescription("🚗 Detecting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)

		type outcome struct {
			path   string
			job    *model.DetectionJob
			result *model.DetectionResult
			err    error
		}
		outcomes := make([]outcome, 0, len(args))
		for i, path := range args {
			data, err := readJPEG(path, encoder)
			if err != nil {
				outcomes = append(outcomes, outcome{path: path, err: err})
				bar.Add(1)
				continue
			}

			job, result := w.Execute(cmd.Context(), data, uint64(i+1), uuid.NewString(), service.ManualUploadSource)
			outcomes = append(outcomes, outcome{path: path, job: job, result: result, err: job.Err})
			bar.Add(1)
		}
		bar.Finish()

		failed := 0
		for _, o := range outcomes {
			if o.err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", o.path, o.err)
				failed++
				continue
			}
			printResult(o.path, o.job, o.result)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d image(s) failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

// readJPEG returns the file as JPEG, re-encoding other image formats.
func readJPEG(path string, encoder *opencv.Encoder) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if http.DetectContentType(data) == "image/jpeg" {
		return data, nil
	}

	img, err := opencv.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	return encoder.EncodeJPEG(img)
}

func printResult(path string, job *model.DetectionJob, result *model.DetectionResult) {
	fmt.Printf("\n%s (job %s, %s)\n", path, job.ID, job.State)
	if result.TimedOut {
		fmt.Println("  timed out waiting for the detection service")
		return
	}
	if result.Empty() {
		fmt.Println("  nothing detected")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "  KIND\tTYPE\tCONFIDENCE\tDETAIL")
	for _, v := range result.Vehicles {
		plate := model.UnknownValue
		if v.LicensePlate != nil {
			plate = *v.LicensePlate
		}
		fmt.Fprintf(w, "  vehicle\t%s\t%.2f\t%s, plate %s\n", v.Type, v.Confidence, v.Color, plate)
	}
	for _, o := range result.Objects {
		fmt.Fprintf(w, "  object\t%s\t%.2f\t%s, %s\n", o.Type, o.Confidence, o.Location, o.SizeCategory)
	}
	w.Flush()
}

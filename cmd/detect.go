package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chrisdamba/venuesim/internal/detection"
	"github.com/chrisdamba/venuesim/internal/models"
	"github.com/chrisdamba/venuesim/internal/random"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Runs simulated threat detection and prints each result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		mode, _ := cmd.Flags().GetString("mode")
		count, _ := cmd.Flags().GetInt("count")
		noDelay, _ := cmd.Flags().GetBool("no-delay")

		if mode != models.DetectionModeUpload && mode != models.DetectionModeCapture {
			return fmt.Errorf("unsupported mode %q, want upload or capture", mode)
		}
		if count <= 0 {
			return fmt.Errorf("count must be positive")
		}
		if noDelay {
			cfg.Detection.UploadDelay, cfg.Detection.CaptureDelay = 0, 0
		}

		ctx := cmd.Context()
		detections := newDetections(cfg, random.New(cfg.Seed), nil)
		if mode == models.DetectionModeCapture {
			if err := detections.StartStream(ctx); err != nil {
				return err
			}
			defer detections.StopStream()
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		threats := 0
		for i := 0; i < count; i++ {
			var task *detection.Task
			if mode == models.DetectionModeUpload {
				task, err = detections.AnalyzeUpload(ctx, detection.Upload{
					Filename:    fmt.Sprintf("frame-%04d.jpg", i),
					ContentType: "image/jpeg",
					Size:        1,
				})
			} else {
				task, err = detections.CaptureFrame(ctx)
			}
			if err != nil {
				return err
			}
			result, err := task.Wait(ctx)
			if err != nil {
				return err
			}
			if result.Threat {
				threats++
			}
			if err := enc.Encode(result); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d analyses flagged a threat\n", threats, count)
		return nil
	},
}

func init() {
	detectCmd.Flags().String("mode", models.DetectionModeUpload, "Analysis mode (upload or capture)")
	detectCmd.Flags().Int("count", 1, "Number of analyses to run")
	detectCmd.Flags().Bool("no-delay", false, "Skip the simulated analysis latency")
	rootCmd.AddCommand(detectCmd)
}

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chrisdamba/venuesim/internal/simulator"
)

var heatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Prints simulated heatmap points as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		count, _ := cmd.Flags().GetInt("count")
		if !cmd.Flags().Changed("count") {
			count = cfg.API.HeatmapPoints
		}
		if count < 0 {
			return fmt.Errorf("count must not be negative")
		}

		points := simulator.NewSimulator(cfg).Heatmap(count)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(points)
	},
}

func init() {
	heatmapCmd.Flags().Int("count", 200, "Number of points to generate")
	rootCmd.AddCommand(heatmapCmd)
}

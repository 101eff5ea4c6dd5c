package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Tandem/internal/config"
	"github.com/BioHazard786/Tandem/internal/signaling"
	"github.com/BioHazard786/Tandem/internal/ui"
)

var onlineCmd = &cobra.Command{
	Use:   "online",
	Short: "Show how many people are online",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{Server: flagServer})
		if err != nil {
			return err
		}
		statsURL, err := cfg.StatsURL()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		stats, err := fetchStats(ctx, http.DefaultClient, statsURL)
		if err != nil {
			return err
		}
		ui.RenderStats(cmd.OutOrStdout(), cfg.Server, stats)
		return nil
	},
}

func fetchStats(ctx context.Context, client *http.Client, statsURL string) (signaling.Stats, error) {
	var stats signaling.Stats

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statsURL, nil)
	if err != nil {
		return stats, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return stats, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("fetch stats: server returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}

func init() {
	rootCmd.AddCommand(onlineCmd)
}

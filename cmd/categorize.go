package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/royale/internal/quality"
)

var categorizeBatchSize int

var categorizeCmd = &cobra.Command{
	Use:   "categorize",
	Short: "Classify review comments by category and quality",
	Long: `Send uncategorized review comments to the LLM, which labels each one as
cosmetic, logic, structural, nit or question and scores it from 1 to 10.
Classified comments feed the quality-weighted XP formula on the next sync or recalc.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newLLMClient()
		if client == nil {
			return fmt.Errorf("no Anthropic API key configured (set anthropic.api_key or ANTHROPIC_API_KEY)")
		}
		s, err := getStore()
		if err != nil {
			return err
		}
		log, err := getLogger()
		if err != nil {
			return err
		}

		batch := categorizeBatchSize
		if batch <= 0 {
			batch = viper.GetInt("categorize.batch_size")
		}
		stats, err := quality.NewCategorizer(s, client, log).Run(cmd.Context(), batch)
		if err != nil {
			return err
		}

		ui.Success("Classified %d comments", stats.Processed)
		if stats.Skipped > 0 {
			ui.Info("  %d left for a later run", stats.Skipped)
		}
		if stats.Errors > 0 {
			ui.Warning("%d classifications could not be saved", stats.Errors)
		}
		return nil
	},
}

func init() {
	categorizeCmd.Flags().IntVar(&categorizeBatchSize, "batch-size", 0, "Comments per LLM request (default categorize.batch_size)")
	rootCmd.AddCommand(categorizeCmd)
}

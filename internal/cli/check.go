package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one usage check against all deployments",
	Long: `Query the metric API for every deployment's token usage this month,
reconcile against persisted state, and send alerts for deployments that
crossed their threshold for the first time.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	src, err := initSource(cfg)
	if err != nil {
		return err
	}

	rec, store, err := initReconciler(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	samples, err := src.MonthlyTotals(cmd.Context())
	if err != nil {
		return fmt.Errorf("query usage source: %w", err)
	}

	results := rec.Run(cmd.Context(), samples)

	var alerted, failed int
	for _, res := range results {
		if res.Alerted {
			alerted++
		}
		if res.Err != nil {
			failed++
		}
	}

	fmt.Printf("Checked %d deployments: %d alerted, %d failed\n", len(results), alerted, failed)
	for _, res := range results {
		status := "ok"
		switch {
		case res.Err != nil:
			status = "failed: " + res.Err.Error()
		case res.Alerted:
			status = "alert sent"
		}
		fmt.Printf("  %-30s %10d  %s\n", res.Deployment, res.Usage, status)
	}

	return nil
}

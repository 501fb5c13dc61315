package source

import (
	"context"

	"github.com/yapay-ai/token-usage-watchdog/pkg/model"
)

// UsageSource supplies the current month's total token usage per
// deployment. A failure here aborts the whole invocation: nothing can
// be evaluated without fresh usage data.
type UsageSource interface {
	MonthlyTotals(ctx context.Context) ([]model.DeploymentUsage, error)
}

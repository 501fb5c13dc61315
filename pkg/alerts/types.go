package alerts

import (
	"context"
	"fmt"
)

// Alert represents a usage-threshold notification for one deployment.
type Alert struct {
	Deployment string `json:"deployment"`
	YearMonth  string `json:"year_month"`
	Usage      int64  `json:"usage"`
	Threshold  int64  `json:"threshold"`
	Message    string `json:"message"`
}

// NewThresholdAlert builds an alert for a deployment that crossed its
// monthly usage threshold.
func NewThresholdAlert(deployment, yearMonth string, usage, threshold int64) Alert {
	return Alert{
		Deployment: deployment,
		YearMonth:  yearMonth,
		Usage:      usage,
		Threshold:  threshold,
		Message: fmt.Sprintf("Deployment %q used %d tokens in %s, over the %d limit",
			deployment, usage, yearMonth, threshold),
	}
}

// Notifier sends alerts to external systems.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers an alert. Implementations must be safe for concurrent use.
	Send(ctx context.Context, alert Alert) error
}

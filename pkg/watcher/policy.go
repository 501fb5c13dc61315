package watcher

import (
	"github.com/yapay-ai/token-usage-watchdog/pkg/model"
)

// AlertPolicy decides whether a new usage sample warrants an alert.
// It is pure: no I/O, no side effects.
type AlertPolicy struct {
	// Threshold is the default monthly token limit.
	Threshold int64

	// Overrides maps deployment names to per-deployment limits.
	Overrides map[string]int64
}

// ThresholdFor returns the effective limit for a deployment.
func (p AlertPolicy) ThresholdFor(deployment string) int64 {
	if limit, ok := p.Overrides[deployment]; ok {
		return limit
	}
	return p.Threshold
}

// ShouldAlert reports whether an alert should fire for the deployment's
// newly observed monthly total. It fires at most once per record: once
// AlertSent is set the answer is always false. The decision compares the
// fresh sample, not the stored high-water-mark.
func (p AlertPolicy) ShouldAlert(existing *model.UsageRecord, deployment string, newUsage int64) bool {
	if newUsage <= p.ThresholdFor(deployment) {
		return false
	}
	return existing == nil || !existing.AlertSent
}

package watcher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yapay-ai/token-usage-watchdog/pkg/model"
	"github.com/yapay-ai/token-usage-watchdog/pkg/watcher"
)

func TestAlertPolicy_ShouldAlert(t *testing.T) {
	policy := watcher.AlertPolicy{Threshold: 1000}

	sent := &model.UsageRecord{RowKey: "prod-2025-03", AlertSent: true, CumulativeUsage: 1500}
	unsent := &model.UsageRecord{RowKey: "prod-2025-03", AlertSent: false, CumulativeUsage: 500}

	tests := []struct {
		name     string
		existing *model.UsageRecord
		newUsage int64
		want     bool
	}{
		{"no record, over threshold", nil, 1500, true},
		{"no record, at threshold", nil, 1000, false},
		{"no record, under threshold", nil, 400, false},
		{"unsent record, over threshold", unsent, 1200, true},
		{"unsent record, under threshold", unsent, 400, false},
		{"sent record, over threshold", sent, 1800, false},
		{"sent record, far over threshold", sent, 1_000_000, false},
		{"zero usage", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.ShouldAlert(tt.existing, "prod", tt.newUsage)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlertPolicy_ThresholdFor(t *testing.T) {
	policy := watcher.AlertPolicy{
		Threshold: 1000,
		Overrides: map[string]int64{"big-customer": 50_000},
	}

	assert.Equal(t, int64(50_000), policy.ThresholdFor("big-customer"))
	assert.Equal(t, int64(1000), policy.ThresholdFor("anything-else"))

	// Overrides change which threshold the decision uses.
	assert.False(t, policy.ShouldAlert(nil, "big-customer", 1500))
	assert.True(t, policy.ShouldAlert(nil, "big-customer", 50_001))
}

package model

import (
	"fmt"
	"strings"
	"time"
)

// DefaultPartitionKey is the fixed category tag under which all
// deployment usage records are stored.
const DefaultPartitionKey = "DeploymentType"

// UsageRecord tracks one deployment's token usage for one calendar month.
type UsageRecord struct {
	PartitionKey    string    `json:"partition_key" db:"partition_key"`
	RowKey          string    `json:"row_key" db:"row_key"`
	CumulativeUsage int64     `json:"cumulative_usage" db:"cumulative_usage"`
	AlertSent       bool      `json:"alert_sent" db:"alert_sent"`
	LastUpdated     time.Time `json:"last_updated" db:"last_updated"`
}

// DeploymentUsage is one summed usage sample for a deployment,
// as reported by the usage source for the current month.
type DeploymentUsage struct {
	Deployment string `json:"deployment"`
	TotalUsage int64  `json:"total_usage"`
}

// MonthKey returns the calendar-month key ("2006-01") for t in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// RecordRowKey builds the composite row key for a (deployment, month) pair.
func RecordRowKey(deployment, yearMonth string) string {
	return deployment + "-" + yearMonth
}

// ParseRowKey splits a composite row key back into deployment and month.
// The month is the trailing "YYYY-MM" segment; deployment names may
// themselves contain dashes.
func ParseRowKey(rowKey string) (deployment, yearMonth string, err error) {
	i := strings.LastIndex(rowKey, "-")
	if i <= 0 {
		return "", "", fmt.Errorf("malformed row key %q", rowKey)
	}
	j := strings.LastIndex(rowKey[:i], "-")
	if j <= 0 {
		return "", "", fmt.Errorf("malformed row key %q", rowKey)
	}
	deployment, yearMonth = rowKey[:j], rowKey[j+1:]
	if _, err := time.Parse("2006-01", yearMonth); err != nil {
		return "", "", fmt.Errorf("malformed month in row key %q", rowKey)
	}
	return deployment, yearMonth, nil
}

// MonthSpan returns the ISO-8601 timespan from the start of now's month
// to now, in the "start/end" form the metric API expects.
func MonthSpan(now time.Time) string {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start.Format(time.RFC3339) + "/" + now.Format(time.RFC3339)
}

// Validate checks that a record read back from storage has the fields
// the reconciler depends on.
func (r *UsageRecord) Validate() error {
	if r.RowKey == "" {
		return fmt.Errorf("record: missing row key")
	}
	if r.PartitionKey == "" {
		return fmt.Errorf("record %q: missing partition key", r.RowKey)
	}
	if _, _, err := ParseRowKey(r.RowKey); err != nil {
		return err
	}
	if r.CumulativeUsage < 0 {
		return fmt.Errorf("record %q: negative cumulative usage %d", r.RowKey, r.CumulativeUsage)
	}
	return nil
}

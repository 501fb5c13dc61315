package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yapay-ai/token-usage-watchdog/pkg/alerts"
	"github.com/yapay-ai/token-usage-watchdog/pkg/model"
	"github.com/yapay-ai/token-usage-watchdog/pkg/storage"
)

// maxConcurrentReconciles bounds the per-deployment fan-out.
const maxConcurrentReconciles = 8

// Reconciler merges new usage observations into persisted records and
// dispatches threshold alerts. It is the sole writer of usage records.
type Reconciler struct {
	store     storage.RecordStore
	notifiers []alerts.Notifier
	policy    AlertPolicy
	logger    *slog.Logger
	now       func() time.Time
}

// NewReconciler creates a reconciler with the given dependencies.
func NewReconciler(store storage.RecordStore, notifiers []alerts.Notifier, policy AlertPolicy, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		notifiers: notifiers,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
	}
}

// Result is the outcome of one deployment's reconciliation.
type Result struct {
	Deployment string `json:"deployment"`
	YearMonth  string `json:"year_month"`
	Usage      int64  `json:"usage"`
	Alerted    bool   `json:"alerted"`
	Err        error  `json:"-"`
}

// Reconcile merges one deployment's monthly total into its record,
// alerting the first time the total crosses the deployment's threshold.
// It reports whether an alert was delivered during this call.
//
// Store conflicts on create are the expected race between overlapping
// invocations: the loser re-reads and continues. A notifier failure
// leaves AlertSent false so the next run retries, but any raise of the
// usage high-water-mark is still persisted.
func (r *Reconciler) Reconcile(ctx context.Context, deployment string, newUsage int64, yearMonth string) (bool, error) {
	partitionKey := model.DefaultPartitionKey
	rowKey := model.RecordRowKey(deployment, yearMonth)

	record, err := r.store.GetRecord(ctx, partitionKey, rowKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		record = &model.UsageRecord{
			PartitionKey:    partitionKey,
			RowKey:          rowKey,
			CumulativeUsage: newUsage,
			LastUpdated:     r.now().UTC(),
		}
		switch createErr := r.store.CreateRecord(ctx, record); {
		case errors.Is(createErr, storage.ErrAlreadyExists):
			// Lost the create race to a concurrent invocation.
			record, err = r.store.GetRecord(ctx, partitionKey, rowKey)
			if err != nil {
				return false, fmt.Errorf("re-read record after create race: %w", err)
			}
		case createErr != nil:
			return false, fmt.Errorf("create record: %w", createErr)
		}
	case err != nil:
		return false, fmt.Errorf("get record: %w", err)
	}

	dirty := false
	if newUsage > record.CumulativeUsage {
		record.CumulativeUsage = newUsage
		dirty = true
	}

	alerted := false
	var notifyErr error
	if r.policy.ShouldAlert(record, deployment, newUsage) {
		alert := alerts.NewThresholdAlert(deployment, yearMonth, newUsage, r.policy.ThresholdFor(deployment))
		if notifyErr = r.notify(ctx, alert); notifyErr == nil {
			record.AlertSent = true
			alerted = true
			dirty = true
		}
	}

	// The alert flip and the usage raise fold into one write. A failed
	// notification still persists the raised high-water-mark. A freshly
	// created record already holds newUsage, so only an alert flip can
	// dirty it here.
	if dirty {
		record.LastUpdated = r.now().UTC()
		if err := r.store.UpdateRecord(ctx, record); err != nil {
			return alerted, fmt.Errorf("update record: %w", err)
		}
	}

	if notifyErr != nil {
		return false, fmt.Errorf("notify %s: %w", deployment, notifyErr)
	}
	return alerted, nil
}

// notify delivers the alert through every configured notifier; all must
// succeed before the alert counts as sent.
func (r *Reconciler) notify(ctx context.Context, alert alerts.Alert) error {
	if len(r.notifiers) == 0 {
		return errors.New("no notifiers configured")
	}
	for _, n := range r.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			return fmt.Errorf("%s: %w", n.Name(), err)
		}
	}
	return nil
}

// Run reconciles every deployment sample concurrently for the current
// month and joins at the end. One deployment's failure never aborts the
// rest; each outcome lands in its own slot.
func (r *Reconciler) Run(ctx context.Context, samples []model.DeploymentUsage) []Result {
	yearMonth := model.MonthKey(r.now())
	results := make([]Result, len(samples))

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentReconciles)
	for i, sample := range samples {
		i, sample := i, sample
		g.Go(func() error {
			alerted, err := r.Reconcile(ctx, sample.Deployment, sample.TotalUsage, yearMonth)
			results[i] = Result{
				Deployment: sample.Deployment,
				YearMonth:  yearMonth,
				Usage:      sample.TotalUsage,
				Alerted:    alerted,
				Err:        err,
			}
			if err != nil {
				r.logger.Error("reconcile failed",
					"deployment", sample.Deployment,
					"month", yearMonth,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

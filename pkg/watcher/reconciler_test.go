package watcher_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yapay-ai/token-usage-watchdog/pkg/alerts"
	"github.com/yapay-ai/token-usage-watchdog/pkg/model"
	"github.com/yapay-ai/token-usage-watchdog/pkg/storage"
	"github.com/yapay-ai/token-usage-watchdog/pkg/watcher"
)

// memStore is an in-memory RecordStore with the same create/update
// semantics as the SQLite implementation.
type memStore struct {
	mu      sync.Mutex
	records map[string]model.UsageRecord

	failGet    error // when set, GetRecord fails
	failUpdate error // when set, UpdateRecord fails
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]model.UsageRecord)}
}

func (s *memStore) key(pk, rk string) string { return pk + "|" + rk }

func (s *memStore) GetRecord(_ context.Context, pk, rk string) (*model.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	rec, ok := s.records[s.key(pk, rk)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func (s *memStore) CreateRecord(_ context.Context, rec *model.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(rec.PartitionKey, rec.RowKey)
	if _, ok := s.records[k]; ok {
		return storage.ErrAlreadyExists
	}
	s.records[k] = *rec
	return nil
}

func (s *memStore) UpdateRecord(_ context.Context, rec *model.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate != nil {
		return s.failUpdate
	}
	k := s.key(rec.PartitionKey, rec.RowKey)
	if _, ok := s.records[k]; !ok {
		return storage.ErrNotFound
	}
	s.records[k] = *rec
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) get(t *testing.T, deployment, month string) model.UsageRecord {
	t.Helper()
	rec, err := s.GetRecord(context.Background(), model.DefaultPartitionKey, model.RecordRowKey(deployment, month))
	require.NoError(t, err)
	return *rec
}

// countingNotifier records every alert it delivers; fail makes Send error.
type countingNotifier struct {
	mu   sync.Mutex
	sent []alerts.Alert
	fail error
}

func (n *countingNotifier) Name() string { return "counting" }

func (n *countingNotifier) Send(_ context.Context, alert alerts.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, alert)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func newTestReconciler(store storage.RecordStore, notifier alerts.Notifier) *watcher.Reconciler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	policy := watcher.AlertPolicy{Threshold: 1000}
	return watcher.NewReconciler(store, []alerts.Notifier{notifier}, policy, logger)
}

func TestReconcile_NewRecordOverThreshold(t *testing.T) {
	store := newMemStore()
	notifier := &countingNotifier{}
	rec := newTestReconciler(store, notifier)

	alerted, err := rec.Reconcile(context.Background(), "prod", 1500, "2025-03")
	require.NoError(t, err)
	assert.True(t, alerted)
	assert.Equal(t, 1, notifier.count())

	got := store.get(t, "prod", "2025-03")
	assert.Equal(t, int64(1500), got.CumulativeUsage)
	assert.True(t, got.AlertSent)
	assert.False(t, got.LastUpdated.IsZero())
}

func TestReconcile_AlreadyAlerted_UpdatesUsageOnly(t *testing.T) {
	store := newMemStore()
	notifier := &countingNotifier{}
	rec := newTestReconciler(store, notifier)

	require.NoError(t, store.CreateRecord(context.Background(), &model.UsageRecord{
		PartitionKey:    model.DefaultPartitionKey,
		RowKey:          "prod-2025-03",
		CumulativeUsage: 1500,
		AlertSent:       true,
	}))

	alerted, err := rec.Reconcile(context.Background(), "prod", 1800, "2025-03")
	require.NoError(t, err)
	assert.False(t, alerted)
	assert.Equal(t, 0, notifier.count())

	got := store.get(t, "prod", "2025-03")
	assert.Equal(t, int64(1800), got.CumulativeUsage)
	assert.True(t, got.AlertSent)
}

func TestReconcile_UsageDip_KeepsHighWaterMark(t *testing.T) {
	store := newMemStore()
	notifier := &countingNotifier{}
	rec := newTestReconciler(store, notifier)

	require.NoError(t, store.CreateRecord(context.Background(), &model.UsageRecord{
		PartitionKey:    model.DefaultPartitionKey,
		RowKey:          "prod-2025-03",
		CumulativeUsage: 500,
	}))

	alerted, err := rec.Reconcile(context.Background(), "prod", 400, "2025-03")
	require.NoError(t, err)
	assert.False(t, alerted)
	assert.Equal(t, 0, notifier.count())

	got := store.get(t, "prod", "2025-03")
	assert.Equal(t, int64(500), got.CumulativeUsage)
	assert.False(t, got.AlertSent)
}

func TestReconcile_Idempotent_NoDuplicateAlert(t *testing.T) {
	store := newMemStore()
	notifier := &countingNotifier{}
	rec := newTestReconciler(store, notifier)
	ctx := context.Background()

	alerted, err := rec.Reconcile(ctx, "prod", 1500, "2025-03")
	require.NoError(t, err)
	assert.True(t, alerted)

	alerted, err = rec.Reconcile(ctx, "prod", 1500, "2025-03")
	require.NoError(t, err)
	assert.False(t, alerted)
	assert.Equal(t, 1, notifier.count())

	got := store.get(t, "prod", "2025-03")
	assert.True(t, got.AlertSent)
	assert.Equal(t, int64(1500), got.CumulativeUsage)
}

func TestReconcile_CreateRace_ReReadsAndProceeds(t *testing.T) {
	store := newMemStore()
	notifier := &countingNotifier{}
	rec := newTestReconciler(store, notifier)
	ctx := context.Background()

	// Two concurrent reconciliations for a brand-new key: exactly one
	// create wins, the loser re-reads and continues without error.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = rec.Reconcile(ctx, "prod", 400, "2025-03")
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got := store.get(t, "prod", "2025-03")
	assert.Equal(t, int64(400), got.CumulativeUsage)
	assert.False(t, got.AlertSent)
}

func TestReconcile_NotifierFailure_LeavesAlertPending(t *testing.T) {
	store := newMemStore()
	notifier := &countingNotifier{fail: errors.New("smtp unavailable")}
	rec := newTestReconciler(store, notifier)
	ctx := context.Background()

	require.NoError(t, store.CreateRecord(ctx, &model.UsageRecord{
		PartitionKey:    model.DefaultPartitionKey,
		RowKey:          "prod-2025-03",
		CumulativeUsage: 900,
	}))

	alerted, err := rec.Reconcile(ctx, "prod", 1500, "2025-03")
	assert.Error(t, err)
	assert.False(t, alerted)

	// Usage high-water-mark still advanced; alert stays pending for the
	// next run.
	got := store.get(t, "prod", "2025-03")
	assert.Equal(t, int64(1500), got.CumulativeUsage)
	assert.False(t, got.AlertSent)

	// Next run with a working notifier delivers exactly once.
	notifier.fail = nil
	alerted, err = rec.Reconcile(ctx, "prod", 1500, "2025-03")
	require.NoError(t, err)
	assert.True(t, alerted)
	assert.Equal(t, 1, notifier.count())
	assert.True(t, store.get(t, "prod", "2025-03").AlertSent)
}

func TestReconcile_StoreFailure(t *testing.T) {
	store := newMemStore()
	store.failGet = errors.New("connection reset")
	rec := newTestReconciler(store, &countingNotifier{})

	_, err := rec.Reconcile(context.Background(), "prod", 1500, "2025-03")
	assert.Error(t, err)
}

func TestRun_IsolatesFailures(t *testing.T) {
	store := newMemStore()
	notifier := &countingNotifier{}
	rec := newTestReconciler(store, notifier)
	ctx := context.Background()

	// A poisoned record for one deployment: update will fail, but only
	// for that deployment.
	require.NoError(t, store.CreateRecord(ctx, &model.UsageRecord{
		PartitionKey:    model.DefaultPartitionKey,
		RowKey:          "broken-2025-03",
		CumulativeUsage: 100,
	}))
	store.failUpdate = errors.New("disk full")

	samples := []model.DeploymentUsage{
		{Deployment: "healthy", TotalUsage: 200},
		{Deployment: "broken", TotalUsage: 900},
	}
	results := rec.Run(ctx, samples)
	require.Len(t, results, 2)

	byName := map[string]watcher.Result{}
	for _, res := range results {
		byName[res.Deployment] = res
	}
	assert.NoError(t, byName["healthy"].Err)
	assert.Error(t, byName["broken"].Err)
}

func TestRun_AlertsOncePerDeployment(t *testing.T) {
	store := newMemStore()
	notifier := &countingNotifier{}
	rec := newTestReconciler(store, notifier)
	ctx := context.Background()

	samples := []model.DeploymentUsage{
		{Deployment: "a", TotalUsage: 1500},
		{Deployment: "b", TotalUsage: 800},
		{Deployment: "c", TotalUsage: 2000},
	}

	results := rec.Run(ctx, samples)
	require.Len(t, results, 3)

	alerted := 0
	for _, res := range results {
		require.NoError(t, res.Err)
		if res.Alerted {
			alerted++
		}
	}
	assert.Equal(t, 2, alerted)
	assert.Equal(t, 2, notifier.count())

	// Second run over the same samples is quiet.
	results = rec.Run(ctx, samples)
	for _, res := range results {
		require.NoError(t, res.Err)
		assert.False(t, res.Alerted)
	}
	assert.Equal(t, 2, notifier.count())
}

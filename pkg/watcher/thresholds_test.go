package watcher_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yapay-ai/token-usage-watchdog/pkg/watcher"
)

func writeThresholds(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadThresholdOverrides(t *testing.T) {
	path := writeThresholds(t, `
deployments:
  - deployment: gpt-4o-prod
    monthly_limit: 2000
  - deployment: embeddings
    monthly_limit: 500000
`)

	overrides, err := watcher.LoadThresholdOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), overrides["gpt-4o-prod"])
	assert.Equal(t, int64(500000), overrides["embeddings"])
	assert.Len(t, overrides, 2)
}

func TestLoadThresholdOverrides_EmptyName(t *testing.T) {
	path := writeThresholds(t, `
deployments:
  - deployment: ""
    monthly_limit: 100
`)
	_, err := watcher.LoadThresholdOverrides(path)
	assert.Error(t, err)
}

func TestLoadThresholdOverrides_NonPositiveLimit(t *testing.T) {
	path := writeThresholds(t, `
deployments:
  - deployment: prod
    monthly_limit: 0
`)
	_, err := watcher.LoadThresholdOverrides(path)
	assert.Error(t, err)
}

func TestLoadThresholdOverrides_MissingFile(t *testing.T) {
	_, err := watcher.LoadThresholdOverrides(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

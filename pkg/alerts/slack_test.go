package alerts_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yapay-ai/token-usage-watchdog/pkg/alerts"
)

func TestSlackNotifier_Name(t *testing.T) {
	n := alerts.NewSlackNotifier("https://hooks.slack.com/test", "#alerts")
	assert.Equal(t, "slack", n.Name())
}

func TestSlackNotifier_Send(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		body, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := alerts.NewSlackNotifier(server.URL, "#usage-alerts")
	err := n.Send(context.Background(), alerts.NewThresholdAlert("prod", "2025-03", 1500, 1000))
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "#usage-alerts", payload["channel"])
	assert.NotEmpty(t, payload["attachments"])
}

func TestSlackNotifier_Send_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := alerts.NewSlackNotifier(server.URL, "#alerts")
	err := n.Send(context.Background(), alerts.Alert{Deployment: "prod"})
	assert.Error(t, err)
}

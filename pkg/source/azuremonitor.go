package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/yapay-ai/token-usage-watchdog/pkg/model"
)

const (
	defaultEndpoint   = "https://management.azure.com"
	metricsAPIVersion = "2023-10-01"
)

// AzureMonitorConfig configures the metric query for one monitored
// resource.
type AzureMonitorConfig struct {
	// ResourceID is the full ARM ID of the monitored resource.
	ResourceID string

	// MetricName is the usage metric to query. Defaults to
	// "TokenTransaction".
	MetricName string

	// Dimension is the metric dimension carrying the deployment name.
	// Defaults to "ModelDeploymentName".
	Dimension string

	// Endpoint overrides the management endpoint; used in tests.
	Endpoint string
}

// AzureMonitor queries the Azure Monitor metrics REST API for
// per-deployment token usage over the current month.
type AzureMonitor struct {
	cred     azcore.TokenCredential
	cfg      AzureMonitorConfig
	endpoint string
	client   *http.Client
	now      func() time.Time
}

// NewAzureMonitor creates a usage source backed by Azure Monitor.
func NewAzureMonitor(cred azcore.TokenCredential, cfg AzureMonitorConfig) *AzureMonitor {
	if cfg.MetricName == "" {
		cfg.MetricName = "TokenTransaction"
	}
	if cfg.Dimension == "" {
		cfg.Dimension = "ModelDeploymentName"
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &AzureMonitor{
		cred:     cred,
		cfg:      cfg,
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// MonthlyTotals queries daily usage totals for the current month, split
// by deployment, and sums them into one total per deployment.
func (a *AzureMonitor) MonthlyTotals(ctx context.Context) ([]model.DeploymentUsage, error) {
	token, err := a.cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{a.endpoint + "/.default"},
	})
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	q := url.Values{}
	q.Set("api-version", metricsAPIVersion)
	q.Set("metricnames", a.cfg.MetricName)
	q.Set("timespan", model.MonthSpan(a.now()))
	q.Set("interval", "P1D")
	q.Set("aggregation", "Total")
	q.Set("$filter", fmt.Sprintf("%s eq '*'", a.cfg.Dimension))

	reqURL := fmt.Sprintf("%s%s/providers/Microsoft.Insights/metrics?%s",
		a.endpoint, a.cfg.ResourceID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create metrics request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics API returned status %d", resp.StatusCode)
	}

	var body metricsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode metrics response: %w", err)
	}

	return a.sumByDeployment(body), nil
}

// sumByDeployment folds per-period totals into one total per deployment.
func (a *AzureMonitor) sumByDeployment(body metricsResponse) []model.DeploymentUsage {
	totals := make(map[string]int64)
	for _, metric := range body.Value {
		for _, series := range metric.Timeseries {
			name := series.deploymentName(a.cfg.Dimension)
			if name == "" {
				continue
			}
			for _, point := range series.Data {
				totals[name] += int64(point.Total)
			}
		}
	}

	usages := make([]model.DeploymentUsage, 0, len(totals))
	for name, total := range totals {
		usages = append(usages, model.DeploymentUsage{Deployment: name, TotalUsage: total})
	}
	sort.Slice(usages, func(i, j int) bool { return usages[i].Deployment < usages[j].Deployment })
	return usages
}

type metricsResponse struct {
	Value []struct {
		Name struct {
			Value string `json:"value"`
		} `json:"name"`
		Timeseries []timeseries `json:"timeseries"`
	} `json:"value"`
}

type timeseries struct {
	Metadatavalues []struct {
		Name struct {
			Value string `json:"value"`
		} `json:"name"`
		Value string `json:"value"`
	} `json:"metadatavalues"`
	Data []struct {
		TimeStamp string  `json:"timeStamp"`
		Total     float64 `json:"total"`
	} `json:"data"`
}

// deploymentName extracts the deployment dimension value from a series'
// metadata. The API lowercases dimension names in responses.
func (t timeseries) deploymentName(dimension string) string {
	for _, m := range t.Metadatavalues {
		if strings.EqualFold(m.Name.Value, dimension) {
			return m.Value
		}
	}
	return ""
}

package e2e

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	jobmetrics "github.com/campus-sis/campus-sis/internal/jobs"
	"github.com/campus-sis/campus-sis/internal/observability"
	"github.com/campus-sis/campus-sis/jobs"
)

// shippedRule is the slice of a Prometheus rule the simulation reads.
type shippedRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

func shippedRules(t *testing.T) map[string]shippedRule {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "portal.yml"))
	require.NoError(t, err, "read alert rules")

	var file struct {
		Groups []struct {
			Rules []shippedRule `yaml:"rules"`
		} `yaml:"groups"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &file), "unmarshal alert rules")

	rules := make(map[string]shippedRule)
	for _, group := range file.Groups {
		for _, rule := range group.Rules {
			rules[rule.Alert] = rule
		}
	}
	require.NotEmpty(t, rules)
	return rules
}

// scrapeValue reads one sample out of a scrape body, 0 when the series has
// not been written yet.
func scrapeValue(t *testing.T, handler http.Handler, sample string) float64 {
	t.Helper()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	for _, line := range strings.Split(rr.Body.String(), "\n") {
		if !strings.HasPrefix(line, sample) {
			continue
		}
		fields := strings.Fields(line)
		value, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		require.NoError(t, err)
		return value
	}
	return 0
}

// errorRatio pushes traffic through the HTTP metrics middleware and reports
// the 5xx share the way the HighErrorRate expression would see it.
func errorRatio(t *testing.T, total, failing int) float64 {
	t.Helper()

	metrics := observability.NewMetrics()
	router := chi.NewRouter()
	router.Use(metrics.Middleware)
	router.Get("/sections/{code}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("outage") == "1" {
			http.Error(w, "auth service unreachable", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < total; i++ {
		target := "/sections/SCI-2A"
		if i < failing {
			target += "?outage=1"
		}
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	errs := scrapeValue(t, metrics.Handler(), `campus_http_requests_total{code="500",route="/sections/{code}"}`)
	oks := scrapeValue(t, metrics.Handler(), `campus_http_requests_total{code="200",route="/sections/{code}"}`)
	require.Equal(t, float64(total), errs+oks, "every request must be counted")
	return errs / float64(total)
}

// failureCount runs the purge job tracker and reports the failure counter
// backing the JobFailures expression.
func failureCount(t *testing.T, failures int) float64 {
	t.Helper()

	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	for i := 0; i < failures; i++ {
		err := metrics.Track(jobs.TaskSessionsPurge).End(errors.New("redis connection refused"))
		require.Error(t, err)
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, metrics.Track(jobs.TaskSessionsPurge).End(nil))
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return scrapeValue(t, handler, fmt.Sprintf("campus_jobs_failures_total{job=%q}", jobs.TaskSessionsPurge))
}

// p95Seconds is the nearest-rank p95 the HighLatency quantile approximates.
func p95Seconds(samplesMS ...int) float64 {
	sorted := append([]int(nil), samplesMS...)
	sort.Ints(sorted)
	rank := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	return (time.Duration(sorted[rank]) * time.Millisecond).Seconds()
}

// Trips every shipped alert with simulated incident traffic, clears it with
// healthy traffic, and renders the firing and resolved lines the on-call
// sees.
func TestAlertSimulationProducesFiringAndResolvedLogs(t *testing.T) {
	rules := shippedRules(t)

	scenarios := []struct {
		name      string
		threshold float64
		incident  float64
		recovered float64
	}{
		{
			name:      "HighErrorRate",
			threshold: 0.05,
			incident:  errorRatio(t, 100, 8),
			recovered: errorRatio(t, 100, 0),
		},
		{
			name:      "HighLatency",
			threshold: 1.5,
			incident:  p95Seconds(1200, 1350, 1500, 1600, 1700, 1800, 1900, 2000, 2100, 2200),
			recovered: p95Seconds(120, 140, 160, 180, 200, 240, 280, 320, 360, 400),
		},
		{
			name:      "JobFailures",
			threshold: 0,
			incident:  failureCount(t, 3),
			recovered: failureCount(t, 0),
		},
	}

	var log strings.Builder
	for _, scenario := range scenarios {
		rule, ok := rules[scenario.name]
		require.True(t, ok, "rule %s must ship in portal.yml", scenario.name)
		assert.Contains(t, rule.Expr, fmt.Sprintf("> %g", scenario.threshold),
			"simulated threshold must match the shipped expression for %s", scenario.name)
		require.Greater(t, scenario.incident, scenario.threshold,
			"incident traffic must trip %s", scenario.name)
		require.LessOrEqual(t, scenario.recovered, scenario.threshold,
			"healthy traffic must clear %s", scenario.name)

		fmt.Fprintf(&log, "FIRING %s severity=%s value=%.3f threshold=%g for=%s runbook=%s\n",
			scenario.name, rule.Labels["severity"], scenario.incident, scenario.threshold,
			rule.For, rule.Annotations["runbook"])
		fmt.Fprintf(&log, "RESOLVED %s value=%.3f\n", scenario.name, scenario.recovered)
	}

	output := log.String()
	assert.Contains(t, output, "FIRING HighErrorRate severity=critical value=0.080 threshold=0.05 for=10m runbook=docs/runbook-portal.md#high-error-rate")
	assert.Contains(t, output, "FIRING JobFailures severity=warning value=3.000 threshold=0 for=30m runbook=docs/runbook-portal.md#job-failures")
	assert.Contains(t, output, "RESOLVED HighLatency value=0.400")
}

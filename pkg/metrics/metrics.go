// Package metrics exposes the Prometheus registry used by the studio engine.
// Metrics are defined in the packages that own them (credential, client,
// keystore, batch, session) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all studio metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Credential Pool Metrics (pkg/credential):
//   - studio_credential_calls_total{mode, outcome} (Counter): Pool calls by mode (primary, rotation) and outcome
//   - studio_credential_failures_total{class} (Counter): Failed attempts against a single credential
//   - studio_credential_transitions_total{status} (Counter): Credential status transitions
//   - studio_credential_quota_retries_total (Counter): Quota retries against the same credential
//   - studio_credential_retry_backoff_seconds (Histogram): Backoff waited before a quota retry
//   - studio_credential_persist_errors_total (Counter): Transitions that could not be stored
//
// Generative API Metrics (pkg/client):
//   - studio_api_requests_total{operation, status} (Counter): Requests by operation and HTTP status
//   - studio_api_request_duration_seconds{operation} (Histogram): Request duration by operation
//   - studio_api_errors_total{class} (Counter): Errors by class (auth, safety, quota, validation, transient)
//
// Credential Store Metrics (pkg/keystore):
//   - studio_keystore_errors_total{operation} (Counter): Redis operation errors
//
// Batch Metrics (pkg/batch):
//   - studio_batch_outputs_total{result} (Counter): Per-index results (success, failure)
//   - studio_batch_runs_total{outcome} (Counter): Finished runs (completed, aborted, not_started)
//   - studio_batch_duration_seconds (Histogram): Wall-clock duration of runs
//
// Session Metrics (pkg/session):
//   - studio_session_saves_total{result} (Counter): Session document saves
//
// Example Prometheus Queries:
//
//   # Rotation fallbacks that ended with every credential failing
//   rate(studio_credential_calls_total{mode="rotation", outcome="all_failed"}[15m])
//
//   # Quota pressure
//   rate(studio_credential_quota_retries_total[5m])
//
//   # Batch abort ratio
//   sum(rate(studio_batch_runs_total{outcome="aborted"}[1h])) /
//   sum(rate(studio_batch_runs_total[1h]))
//
//   # P95 image generation latency
//   histogram_quantile(0.95, rate(studio_api_request_duration_seconds_bucket{operation="generate_image"}[5m]))

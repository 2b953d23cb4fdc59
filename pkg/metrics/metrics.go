// Package metrics provides the centralized Prometheus metrics reference for
// the MRI analyzer. All metrics are defined in their respective packages
// (dispatch, vision, ratelimit, results) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the analyzer.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Dispatch Metrics (pkg/dispatch):
//   - mri_batches_total{state} (Counter): Batches by terminal state (SKIPPED, VALID, INVALID_SHAPE, FAILED)
//   - mri_batch_duration_seconds (Histogram): End-to-end batch execution duration
//   - mri_retries_total (Counter): Retry attempts across all batches
//   - mri_retry_backoff_seconds (Histogram): Backoff duration before retries
//   - mri_retry_exhausted_total (Counter): Batches abandoned after exhausting the retry budget
//   - mri_shape_defects_total (Counter): Persisted responses missing required fields
//
// Rate Limit Metrics (pkg/ratelimit):
//   - mri_rate_limit_grants_total (Counter): Request slots granted by the rate limiter
//   - mri_rate_limit_wait_seconds (Histogram): Time callers spent waiting for a slot
//
// API Metrics (pkg/vision):
//   - mri_api_requests_total{mode, status} (Counter): Inference API requests by mode (stream, completion) and HTTP status
//   - mri_api_request_duration_seconds{mode} (Histogram): Request duration by mode
//   - mri_api_errors_total{class} (Counter): API errors by class (client, server, rate_limit, network)
//
// Persistence Metrics (pkg/results):
//   - mri_artifacts_written_total (Counter): Batch response artifacts persisted
//   - mri_artifact_bytes_written_total (Counter): Bytes of batch responses persisted
//
// Example Prometheus Queries:
//
//   # Batch Completion Rate
//   sum(rate(mri_batches_total{state=~"VALID|INVALID_SHAPE"}[5m])) /
//   sum(rate(mri_batches_total{state!="SKIPPED"}[5m]))
//
//   # Shape Defect Rate
//   rate(mri_shape_defects_total[5m]) / rate(mri_artifacts_written_total[5m])
//
//   # Throttling Pressure
//   histogram_quantile(0.95, rate(mri_rate_limit_wait_seconds_bucket[5m]))
//
//   # API Error Rate
//   rate(mri_api_errors_total[5m])
//
//   # P95 Batch Latency
//   histogram_quantile(0.95, rate(mri_batch_duration_seconds_bucket[5m]))

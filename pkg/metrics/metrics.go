// Package metrics documents the Prometheus metrics exposed by the
// ingestion engine. All metrics are defined in their respective
// packages (governor, fetcher, fanout) via promauto to keep the
// packages self-contained; this package provides the registry handle
// and the reference list.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the engine.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Governor Metrics (pkg/governor):
//   - pagestream_admissions_total (Counter): Requests admitted by the rate governor
//   - pagestream_admission_wait_seconds (Histogram): Time spent waiting for admission
//   - pagestream_cooldowns_total (Counter): Cooldowns imposed due to low remaining quota
//   - pagestream_quota_remaining (Gauge): Last remote-reported remaining rate quota
//
// Fetch Metrics (pkg/fetcher):
//   - pagestream_fetches_total{stream, result} (Counter): Page fetches by stream and result (ok, failed, cancelled)
//   - pagestream_fetch_duration_seconds{stream} (Histogram): Page fetch duration including admission wait and retries
//   - pagestream_fetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - pagestream_fetch_retry_exhausted_total{error_class} (Counter): Fetches that exhausted retry attempts
//
// Fan-out Metrics (pkg/fanout):
//   - pagestream_streams_total{status} (Counter): Finished streams by terminal status
//   - pagestream_items_ingested_total (Counter): Records emitted across all streams
//   - pagestream_active_workers (Gauge): Stream workers currently running
//
// Example Prometheus Queries:
//
//   # Admission wait P95
//   histogram_quantile(0.95, rate(pagestream_admission_wait_seconds_bucket[5m]))
//
//   # Effective request rate
//   rate(pagestream_admissions_total[1m])
//
//   # Stream failure ratio
//   sum(rate(pagestream_streams_total{status="failed"}[5m])) /
//   sum(rate(pagestream_streams_total[5m]))
//
//   # Retry pressure by error class
//   rate(pagestream_fetch_retries_total[5m])

// Package metrics records run counters for combine and verify. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "parquet_compactor"

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

type Recorder struct {
	registry *prometheus.Registry

	objectsListed   prometheus.Counter
	bytesDownloaded prometheus.Counter
	bytesUploaded   prometheus.Counter
	storeRetries    *prometheus.CounterVec
	groupsMerged    *prometheus.CounterVec
	tablesVerified  *prometheus.CounterVec
	mergeDuration   prometheus.Histogram
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		objectsListed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "objects_listed_total",
			Help: "Parquet objects found by the inventory listing.",
		}),
		bytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "downloaded_bytes_total",
			Help: "Bytes downloaded from the object store.",
		}),
		bytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "uploaded_bytes_total",
			Help: "Bytes uploaded to the object store.",
		}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "store_retries_total",
			Help: "Retried object store calls by operation.",
		}, []string{"op"}),
		groupsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "groups_merged_total",
			Help: "Merge groups processed by outcome.",
		}, []string{"outcome"}),
		tablesVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tables_verified_total",
			Help: "Tables verified by outcome.",
		}, []string{"outcome"}),
		mergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "group_merge_duration_seconds",
			Help:    "Wall time to download, merge and upload one group.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
	r.registry.MustRegister(
		r.objectsListed, r.bytesDownloaded, r.bytesUploaded,
		r.storeRetries, r.groupsMerged, r.tablesVerified, r.mergeDuration,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObjectsListed(n int) {
	if r == nil {
		return
	}
	r.objectsListed.Add(float64(n))
}

func (r *Recorder) Downloaded(bytes int64) {
	if r == nil {
		return
	}
	r.bytesDownloaded.Add(float64(bytes))
}

func (r *Recorder) Uploaded(bytes int64) {
	if r == nil {
		return
	}
	r.bytesUploaded.Add(float64(bytes))
}

// StoreRetry matches retry.Policy.OnRetry.
func (r *Recorder) StoreRetry(op string, _ int, _ error) {
	if r == nil {
		return
	}
	r.storeRetries.WithLabelValues(op).Inc()
}

func (r *Recorder) GroupMerged(outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.groupsMerged.WithLabelValues(outcome).Inc()
	r.mergeDuration.Observe(took.Seconds())
}

func (r *Recorder) TableVerified(outcome string) {
	if r == nil {
		return
	}
	r.tablesVerified.WithLabelValues(outcome).Inc()
}

// Push sends the registry to a Prometheus Pushgateway, grouped by run.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job, runID string) error {
	if r == nil || gatewayURL == "" {
		return nil
	}
	err := push.New(gatewayURL, job).
		Gatherer(r.registry).
		Grouping("run_id", runID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

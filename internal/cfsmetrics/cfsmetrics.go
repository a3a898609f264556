// Package cfsmetrics declares the Prometheus collectors served at /metrics,
// grounded on the teacher's promauto usage: request latency/count, KvStore
// retry/conflict counters, and EventBus publish counters, per SPEC_FULL.md §3.
package cfsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPRequestDuration observes handler latency by method, route template,
// and response status code.
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "cfs_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// HTTPRequestsTotal counts completed requests by the same labels.
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cfs_http_requests_total",
		Help: "Total completed HTTP requests",
	},
	[]string{"method", "route", "status"},
)

// KvStoreRetries counts optimistic-concurrency retries per keyspace, one
// per WATCH/TxFailedErr iteration in RedisStore.withRetry.
var KvStoreRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cfs_kvstore_retries_total",
		Help: "KvStore optimistic-concurrency retries by keyspace",
	},
	[]string{"keyspace"},
)

// KvStoreBusy counts DB_BUSY_SECONDS exhaustion (ErrTooBusy) per keyspace.
var KvStoreBusy = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cfs_kvstore_busy_total",
		Help: "KvStore retry-budget exhaustion by keyspace",
	},
	[]string{"keyspace"},
)

// EventBusPublished counts session events published by type and outcome
// ("ok", "retried", "dropped").
var EventBusPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cfs_eventbus_published_total",
		Help: "Session lifecycle events published by type and outcome",
	},
	[]string{"event_type", "outcome"},
)

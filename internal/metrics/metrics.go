// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changesync",
		Name:      "transactions_total",
		Help:      "Storage transactions by outcome (commit, rollback, conflict).",
	}, []string{"outcome"})

	TxConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "changesync",
		Name:      "transaction_conflict_retries_total",
		Help:      "Transactions re-run after a serialization conflict.",
	})

	CommitHookPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "changesync",
		Name:      "commit_hook_panics_total",
		Help:      "Post-commit hooks that panicked.",
	})

	ChangesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changesync",
		Name:      "changes_appended_total",
		Help:      "Ledger entries appended, by kind.",
	}, []string{"kind"})

	ChangesRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changesync",
		Name:      "changes_requests_total",
		Help:      "Fetch-changes requests by result.",
	}, []string{"result"})

	ChangesReturned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "changesync",
		Name:      "changes_returned_total",
		Help:      "Change entries returned to clients.",
	})

	CompactedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "changesync",
		Name:      "changes_compacted_total",
		Help:      "Ledger entries removed by compaction.",
	})

	FanoutDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changesync",
		Name:      "fanout_delivered_total",
		Help:      "Updates handed to local connections, by origin (local, remote).",
	}, []string{"origin"})

	FanoutDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changesync",
		Name:      "fanout_dropped_total",
		Help:      "Updates dropped, by reason.",
	}, []string{"reason"})

	BrokerPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "changesync",
		Name:      "broker_publish_failures_total",
		Help:      "Broker publishes that failed and were swallowed.",
	})

	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "changesync",
		Name:      "live_connections",
		Help:      "Update connections currently held by this process.",
	})
)

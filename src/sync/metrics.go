package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_sync_attempts_total",
		Help: "Number of reconciliations started with a peer.",
	})

	syncMessagesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_sync_messages_merged_total",
		Help: "Number of messages fetched from peers and accepted by the message store.",
	})

	syncPrefixFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_sync_prefix_failures_total",
		Help: "Number of trie prefixes skipped because of a peer failure.",
	})

	trieItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_trie_items",
		Help: "Number of keys in the sync trie.",
	})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Delivery metrics
	MessagesAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailstore_messages_added_total",
		Help: "Total number of messages delivered into a mailbox",
	})

	MessagesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailstore_messages_read_total",
		Help: "Total number of messages loaded from disk",
	})

	MessagesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailstore_messages_removed_total",
		Help: "Total number of messages deleted",
	})

	MessagesMoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailstore_messages_moved_total",
		Help: "Total number of messages moved between mailboxes",
	})

	Promotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailstore_promotions_total",
		Help: "Total number of first-read promotions from new to cur",
	})

	KeyCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailstore_key_collisions_total",
		Help: "Total number of unique key collisions that forced a regeneration",
	})

	// Index metrics
	IndexRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailstore_index_refreshes_total",
		Help: "Total number of full directory rescans",
	})

	IndexMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailstore_index_misses_total",
		Help: "Total number of point lookups that missed the cached index",
	})

	// Extended attribute metrics
	XattrDisables = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailstore_xattr_disables_total",
		Help: "Total number of stores that disabled xattr caching after an I/O error",
	})

	// Error metrics
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailstore_errors_total",
		Help: "Total errors by component",
	}, []string{"component", "type"})
)

// RecordError records an error for a component.
func RecordError(component, errType string) {
	Errors.WithLabelValues(component, errType).Inc()
}

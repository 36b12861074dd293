package metrics

import (
	"github.com/clubhub/billing-engine/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	IncCollectionSubmitted(currency string)
	IncCollectionConfirmed(currency string)
	IncCollectionFailed(currency string)
	IncDunningRetry()
	IncSuspension()
	ObserveCollectionAmount(amount float64, currency string, status string)
	ObserveWorkerDuration(workerName string, seconds float64)
	SetSubscriptionsByStatus(status string, count int)
}

type billingMetrics struct {
	log                   *logger.Logger
	collectionsSubmitted  *prometheus.CounterVec
	collectionsStatus     *prometheus.CounterVec
	collectionsAmount     *prometheus.HistogramVec
	dunningRetries        prometheus.Counter
	suspensions           prometheus.Counter
	workerDuration        *prometheus.HistogramVec
	subscriptionsByStatus *prometheus.GaugeVec
}

// NewBillingMetrics создает новые метрики биллинга
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	collectionsSubmitted := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_collections_submitted_total",
			Help: "The total number of collections submitted to the provider",
		},
		[]string{"currency"},
	)

	collectionsStatus := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_collections_status_total",
			Help: "The total number of collection outcomes by status",
		},
		[]string{"status", "currency"},
	)

	collectionsAmount := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_collections_amount",
			Help:    "Collection amounts distribution",
			Buckets: prometheus.ExponentialBuckets(10, 10, 5), // 10, 100, 1000, 10000, 100000
		},
		[]string{"currency", "status"},
	)

	dunningRetries := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "billing_dunning_retries_total",
			Help: "The total number of retry collections scheduled by the dunning engine",
		},
	)

	suspensions := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "billing_suspensions_total",
			Help: "The total number of subscriptions suspended after exhausted retries",
		},
	)

	workerDuration := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_worker_duration_seconds",
			Help:    "Worker run durations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 6),
		},
		[]string{"worker"},
	)

	subscriptionsByStatus := promauto.With(registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "billing_subscriptions",
			Help: "Current number of subscriptions by status",
		},
		[]string{"status"},
	)

	return &billingMetrics{
		log:                   log,
		collectionsSubmitted:  collectionsSubmitted,
		collectionsStatus:     collectionsStatus,
		collectionsAmount:     collectionsAmount,
		dunningRetries:        dunningRetries,
		suspensions:           suspensions,
		workerDuration:        workerDuration,
		subscriptionsByStatus: subscriptionsByStatus,
	}
}

// IncCollectionSubmitted увеличивает счетчик отправленных списаний
func (m *billingMetrics) IncCollectionSubmitted(currency string) {
	m.collectionsSubmitted.WithLabelValues(currency).Inc()
}

// IncCollectionConfirmed увеличивает счетчик подтвержденных списаний
func (m *billingMetrics) IncCollectionConfirmed(currency string) {
	m.collectionsStatus.WithLabelValues("confirmed", currency).Inc()
}

// IncCollectionFailed увеличивает счетчик неудачных списаний
func (m *billingMetrics) IncCollectionFailed(currency string) {
	m.collectionsStatus.WithLabelValues("failed", currency).Inc()
}

// IncDunningRetry увеличивает счетчик запланированных повторов
func (m *billingMetrics) IncDunningRetry() {
	m.dunningRetries.Inc()
}

// IncSuspension увеличивает счетчик приостановленных подписок
func (m *billingMetrics) IncSuspension() {
	m.suspensions.Inc()
}

// ObserveCollectionAmount записывает сумму списания
func (m *billingMetrics) ObserveCollectionAmount(amount float64, currency string, status string) {
	m.collectionsAmount.WithLabelValues(currency, status).Observe(amount)
}

// ObserveWorkerDuration записывает длительность запуска воркера
func (m *billingMetrics) ObserveWorkerDuration(workerName string, seconds float64) {
	m.workerDuration.WithLabelValues(workerName).Observe(seconds)
}

// SetSubscriptionsByStatus записывает число подписок в статусе
func (m *billingMetrics) SetSubscriptionsByStatus(status string, count int) {
	m.subscriptionsByStatus.WithLabelValues(status).Set(float64(count))
}

// Package metrics описывает Prometheus-метрики саги и HTTP-слоя обоих сервисов.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// register регистрирует коллектор или возвращает уже зарегистрированный с тем же описанием.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			existing, ok := already.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", already.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

func registererOrDefault(registerer prometheus.Registerer) prometheus.Registerer {
	if registerer == nil {
		return prometheus.DefaultRegisterer
	}
	return registerer
}

// SagaMetrics считает шаги саги: инициацию оплаты, callback и сверку заказа.
type SagaMetrics struct {
	paymentInitiations *prometheus.CounterVec
	refunds            *prometheus.CounterVec
	callbacks          *prometheus.CounterVec
	reconciliations    *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	inFlightCallbacks  prometheus.Gauge
}

// NewSagaMetrics регистрирует метрики в DefaultRegisterer.
func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSagaMetricsWithRegisterer регистрирует метрики в переданном registerer (используется в тестах).
func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	registerer = registererOrDefault(registerer)
	return &SagaMetrics{
		paymentInitiations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_payment_initiations_total",
			Help: "Payment initiations grouped by result (succeeded, declined, conflict, error).",
		}, []string{"result"})),
		refunds: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_payment_refunds_total",
			Help: "Refund attempts grouped by result.",
		}, []string{"result"})),
		callbacks: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_order_callbacks_total",
			Help: "Payment outcome callbacks to order-service grouped by mode and result.",
		}, []string{"mode", "result"})),
		reconciliations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_order_reconciliations_total",
			Help: "Payment outcomes applied to orders grouped by payment status and result (applied, duplicate, error).",
		}, []string{"payment_status", "result"})),
		stepDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fulfillment_saga_step_duration_seconds",
			Help:    "Duration of individual saga steps in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"step"})),
		inFlightCallbacks: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fulfillment_order_callbacks_in_flight",
			Help: "Fire-and-forget callbacks currently being delivered.",
		})),
	}
}

// RecordPaymentInitiation считает исход инициации платежа. Метод безопасен для nil.
func (m *SagaMetrics) RecordPaymentInitiation(result string) {
	if m == nil {
		return
	}
	m.paymentInitiations.WithLabelValues(result).Inc()
}

func (m *SagaMetrics) RecordRefund(result string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(result).Inc()
}

func (m *SagaMetrics) RecordCallback(mode, result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(mode, result).Inc()
}

func (m *SagaMetrics) RecordReconciliation(paymentStatus, result string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(paymentStatus, result).Inc()
}

// ObserveStep записывает длительность шага с момента start.
func (m *SagaMetrics) ObserveStep(step string, start time.Time) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

// CallbackStarted и CallbackFinished ведут gauge фоновых callback.
func (m *SagaMetrics) CallbackStarted() {
	if m == nil {
		return
	}
	m.inFlightCallbacks.Inc()
}

func (m *SagaMetrics) CallbackFinished() {
	if m == nil {
		return
	}
	m.inFlightCallbacks.Dec()
}

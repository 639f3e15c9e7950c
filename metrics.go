package composer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records composition outcomes. A nil *Metrics records nothing.
type Metrics struct {
	compositions *prometheus.CounterVec
	totalFee     *prometheus.HistogramVec
	batchItems   *prometheus.CounterVec
}

// NewMetrics registers the composer metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)

	return &Metrics{
		compositions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cfcomposer",
				Name:      "compositions_total",
				Help:      "Composed transactions by type and result",
			},
			[]string{"type", "result"},
		),
		totalFee: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cfcomposer",
				Name:      "total_fee",
				Help:      "Total fee of composed transactions",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"token"},
		),
		batchItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cfcomposer",
				Name:      "batch_items_total",
				Help:      "Batch items by result",
			},
			[]string{"result"},
		),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) observeComposition(txType TxType, token string, tx *Transaction, err error) {
	if m == nil {
		return
	}
	m.compositions.WithLabelValues(string(txType), result(err)).Inc()
	if err == nil && tx != nil {
		f, _ := tx.Fee.TotalFee.Float64()
		m.totalFee.WithLabelValues(token).Observe(f)
	}
}

func (m *Metrics) observeBatch(ok, failed int) {
	if m == nil {
		return
	}
	m.batchItems.WithLabelValues("ok").Add(float64(ok))
	m.batchItems.WithLabelValues("error").Add(float64(failed))
}

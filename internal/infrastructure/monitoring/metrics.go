package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
}

type PaymentMetrics struct {
	ProcessedTotal *prometheus.CounterVec
}

type AccrualMetrics struct {
	RunsTotal           *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	AccruedArrearsTotal prometheus.Counter
	LoansInArrears      prometheus.Gauge
}

var (
	DB = DBMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lending_engine_db_query_duration_seconds",
				Help:    "Histogram of database query latencies.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_name", "status"},
		),
	}

	Payment = PaymentMetrics{
		ProcessedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lending_engine_payments_total",
				Help: "Total number of payment registrations by outcome.",
			},
			[]string{"status"},
		),
	}

	Accrual = AccrualMetrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lending_engine_accrual_runs_total",
				Help: "Total number of arrears accrual runs by outcome.",
			},
			[]string{"status"},
		),
		RunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lending_engine_accrual_run_duration_seconds",
				Help:    "Histogram of arrears accrual run durations.",
				Buckets: prometheus.DefBuckets,
			},
		),
		AccruedArrearsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "lending_engine_accrued_arrears_total",
				Help: "Cumulative arrears interest posted to loans.",
			},
		),
		LoansInArrears: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "lending_engine_loans_in_arrears",
				Help: "Number of loans charged during the last accrual run.",
			},
		),
	}
)

func RecordDBQuery(queryName, status string, duration time.Duration) {
	DB.QueryDuration.WithLabelValues(queryName, status).Observe(duration.Seconds())
}

func RecordPayment(status string) {
	Payment.ProcessedTotal.WithLabelValues(status).Inc()
}

func RecordAccrualRun(status string, duration time.Duration) {
	Accrual.RunsTotal.WithLabelValues(status).Inc()
	Accrual.RunDuration.Observe(duration.Seconds())
}

func RecordAccruedArrears(amount float64) {
	Accrual.AccruedArrearsTotal.Add(amount)
}

func SetLoansInArrears(count int) {
	Accrual.LoansInArrears.Set(float64(count))
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Scan ingestion outcomes.
const (
	OutcomeSaved   = "saved"
	OutcomeInvalid = "invalid"
	OutcomeFailed  = "failed"
)

// ScanMetrics holds Prometheus metrics for the ingestion path.
type ScanMetrics struct {
	IngestedTotal *prometheus.CounterVec
}

func NewScanMetrics(reg prometheus.Registerer) *ScanMetrics {
	m := &ScanMetrics{
		IngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scans",
			Name:      "ingested_total",
			Help:      "Total number of scan submissions, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.IngestedTotal)
	return m
}

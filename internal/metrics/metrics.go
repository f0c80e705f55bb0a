package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service counters. A nil *Metrics ignores every call.
type Metrics struct {
	TitlesCreated       prometheus.Counter
	TitlesDeleted       prometheus.Counter
	InstallmentsPaid    *prometheus.CounterVec
	ValuationsComputed  *prometheus.CounterVec
	ExportsFinished     *prometheus.CounterVec
	ExportRowsGenerated prometheus.Counter
}

// New registers the counters on reg. Use prometheus.DefaultRegisterer in main
// and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TitlesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "debt_titles_created_total",
			Help: "Total debt titles created",
		}),
		TitlesDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "debt_titles_deleted_total",
			Help: "Total debt titles deleted",
		}),
		InstallmentsPaid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "debt_titles_installment_status_changes_total",
			Help: "Installment paid state changes",
		}, []string{"status"}), // status: "paid", "unpaid"

		ValuationsComputed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "debt_titles_valuations_total",
			Help: "Title valuations computed by path",
		}, []string{"path"}), // path: "installments", "bullet"

		ExportsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "debt_titles_exports_finished_total",
			Help: "Finished exports by result",
		}, []string{"result"}), // result: "ok", "failed"

		ExportRowsGenerated: f.NewCounter(prometheus.CounterOpts{
			Name: "debt_titles_export_rows_total",
			Help: "Rows written to export files",
		}),
	}
}

func (m *Metrics) IncTitleCreated() {
	if m != nil {
		m.TitlesCreated.Inc()
	}
}

func (m *Metrics) IncTitleDeleted() {
	if m != nil {
		m.TitlesDeleted.Inc()
	}
}

// IncInstallmentStatus records an installment changing to paid or unpaid.
func (m *Metrics) IncInstallmentStatus(paid bool) {
	if m == nil {
		return
	}
	status := "unpaid"
	if paid {
		status = "paid"
	}
	m.InstallmentsPaid.WithLabelValues(status).Inc()
}

// IncValuation records one valuation on the installment or bullet path.
func (m *Metrics) IncValuation(withInstallments bool) {
	if m == nil {
		return
	}
	path := "bullet"
	if withInstallments {
		path = "installments"
	}
	m.ValuationsComputed.WithLabelValues(path).Inc()
}

func (m *Metrics) IncExportFinished(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.ExportsFinished.WithLabelValues(result).Inc()
}

func (m *Metrics) AddExportRows(n int) {
	if m != nil {
		m.ExportRowsGenerated.Add(float64(n))
	}
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// BillingMetrics counts business events emitted by the billing services.
type BillingMetrics struct {
	contractTransitions *prometheus.CounterVec
	invoicesIssued      *prometheus.CounterVec
	remindersSent       *prometheus.CounterVec
	ledgerEntries       *prometheus.CounterVec
	shopTransitions     *prometheus.CounterVec
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the singleton billing metrics registered on the default registerer.
func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = NewBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// ResetBillingMetricsForTest resets the billing metrics singleton for tests.
func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

func NewBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels(cfg.constLabels())

	m := &BillingMetrics{
		contractTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fakturo_contract_transitions_total",
			Help:        "Contract lifecycle transitions by contract type and outcome.",
			ConstLabels: labels,
		}, []string{"contract_type", "transition", "result"}),
		invoicesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fakturo_invoices_issued_total",
			Help:        "Archived invoices by resulting status.",
			ConstLabels: labels,
		}, []string{"status"}),
		remindersSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fakturo_dunning_reminders_total",
			Help:        "Dunning reminders created.",
			ConstLabels: labels,
		}, []string{"invoice_type"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fakturo_prepaid_ledger_entries_total",
			Help:        "Prepaid ledger entries by direction.",
			ConstLabels: labels,
		}, []string{"direction", "method"}),
		shopTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fakturo_shop_order_transitions_total",
			Help:        "Shop order queue status changes.",
			ConstLabels: labels,
		}, []string{"status"}),
	}

	registerer.MustRegister(m.contractTransitions, m.invoicesIssued, m.remindersSent, m.ledgerEntries, m.shopTransitions)
	return m
}

func (m *BillingMetrics) IncContractTransition(contractType, transition, result string) {
	if m == nil {
		return
	}
	m.contractTransitions.WithLabelValues(contractType, transition, result).Inc()
}

func (m *BillingMetrics) IncInvoiceIssued(status string) {
	if m == nil {
		return
	}
	m.invoicesIssued.WithLabelValues(status).Inc()
}

func (m *BillingMetrics) IncReminder(invoiceType string) {
	if m == nil {
		return
	}
	m.remindersSent.WithLabelValues(invoiceType).Inc()
}

// IncLedgerEntry counts a ledger append. Negative amounts are debits.
func (m *BillingMetrics) IncLedgerEntry(negative bool, method string) {
	if m == nil {
		return
	}
	direction := "credit"
	if negative {
		direction = "debit"
	}
	m.ledgerEntries.WithLabelValues(direction, method).Inc()
}

func (m *BillingMetrics) IncShopTransition(status string) {
	if m == nil {
		return
	}
	m.shopTransitions.WithLabelValues(status).Inc()
}

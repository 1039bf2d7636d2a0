// Package metrics exposes Prometheus collectors for transactions, commands
// and the live document.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transaction outcomes.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
	OutcomeRejected   = "rejected"
	OutcomeDryRun     = "dry_run"
)

// Collector groups every nodeforge metric. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	transactions *prometheus.CounterVec
	txDuration   *prometheus.HistogramVec
	txCommands   prometheus.Histogram
	commands     *prometheus.CounterVec
	undo         prometheus.Counter
	documentOps  *prometheus.CounterVec
	nodes        prometheus.Gauge
	links        prometheus.Gauge
	groups       prometheus.Gauge
	revision     prometheus.Gauge
}

// New registers the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nodeforge_transactions_total",
			Help: "Transactions by outcome",
		}, []string{"outcome"}),
		txDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nodeforge_transaction_duration_seconds",
			Help:    "Transaction duration in seconds, validation included",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
		}, []string{"outcome"}),
		txCommands: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "nodeforge_transaction_commands",
			Help:    "Number of commands per transaction",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nodeforge_commands_total",
			Help: "Executed commands by tool and result",
		}, []string{"tool", "result"}),
		undo: f.NewCounter(prometheus.CounterOpts{
			Name: "nodeforge_undo_steps_total",
			Help: "Undone transactions",
		}),
		documentOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nodeforge_document_operations_total",
			Help: "Whole-document operations (patch, replace, save, load) by result",
		}, []string{"op", "result"}),
		nodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "nodeforge_document_nodes",
			Help: "Nodes in the live document",
		}),
		links: f.NewGauge(prometheus.GaugeOpts{
			Name: "nodeforge_document_links",
			Help: "Links in the live document",
		}),
		groups: f.NewGauge(prometheus.GaugeOpts{
			Name: "nodeforge_document_groups",
			Help: "Groups in the live document",
		}),
		revision: f.NewGauge(prometheus.GaugeOpts{
			Name: "nodeforge_document_revision",
			Help: "Revision counter of the live document",
		}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveTransaction records one finished transaction.
func (c *Collector) ObserveTransaction(outcome string, commands int, d time.Duration) {
	if c == nil {
		return
	}
	c.transactions.WithLabelValues(outcome).Inc()
	c.txDuration.WithLabelValues(outcome).Observe(d.Seconds())
	if commands > 0 {
		c.txCommands.Observe(float64(commands))
	}
}

// ObserveCommand records one dispatched command.
func (c *Collector) ObserveCommand(tool string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.commands.WithLabelValues(tool, result).Inc()
}

// ObserveUndo records undone steps.
func (c *Collector) ObserveUndo(steps int) {
	if c == nil || steps <= 0 {
		return
	}
	c.undo.Add(float64(steps))
}

// ObserveDocumentOp records a whole-document operation.
func (c *Collector) ObserveDocumentOp(op string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.documentOps.WithLabelValues(op, result).Inc()
}

// SetDocument publishes the size of the live document.
func (c *Collector) SetDocument(nodes, links, groups int, revision uint64) {
	if c == nil {
		return
	}
	c.nodes.Set(float64(nodes))
	c.links.Set(float64(links))
	c.groups.Set(float64(groups))
	c.revision.Set(float64(revision))
}

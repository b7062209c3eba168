// Package metrics exports ledger and verifier metrics for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shadowvault/core/internal/ledger"
	"github.com/shadowvault/core/internal/zkp"
)

const namespace = "shadowvault"

// Metrics holds the collectors of one process
type Metrics struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	failures      *prometheus.CounterVec
	verifications *prometheus.HistogramVec
	treeSize      *prometheus.GaugeVec
	amounts       *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_events_total",
			Help:      "Committed ledger operations by kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_failures_total",
			Help:      "Rejected ledger operations by operation and error class.",
		}, []string{"op", "class"}),
		verifications: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proof_verification_seconds",
			Help:      "Proof verification latency by proof kind and result.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"kind", "result"}),
		treeSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tree_leaves",
			Help:      "Number of leaves in each accumulator.",
		}, []string{"tree"}),
		amounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_amount_total",
			Help:      "Base units moved through the pool by direction.",
		}, []string{"direction"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events,
		m.failures,
		m.verifications,
		m.treeSize,
		m.amounts,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HandleEvent counts a committed ledger event and tracks tree sizes
func (m *Metrics) HandleEvent(_ context.Context, ev *ledger.Event) {
	m.events.WithLabelValues(ev.Kind.String()).Inc()

	if ev.HasCommitment() {
		m.treeSize.WithLabelValues(string(ledger.TreeCommitments)).Set(float64(ev.CommitmentIndex + 1))
	}
	if ev.HasNullifier() {
		m.treeSize.WithLabelValues(string(ledger.TreeNullifiers)).Set(float64(ev.NullifierIndex + 1))
	}

	switch ev.Kind {
	case ledger.EventShielded:
		m.amounts.WithLabelValues("in").Add(float64(ev.Amount))
	case ledger.EventUnshielded:
		m.amounts.WithLabelValues("out").Add(float64(ev.Amount - ev.Fee))
		m.amounts.WithLabelValues("fee").Add(float64(ev.Fee))
	}
}

// SetTreeSize records a tree size read at startup
func (m *Metrics) SetTreeSize(name ledger.TreeName, size uint64) {
	m.treeSize.WithLabelValues(string(name)).Set(float64(size))
}

// ObserveFailure counts a rejected operation
func (m *Metrics) ObserveFailure(op string, err error) {
	if err == nil {
		return
	}
	m.failures.WithLabelValues(op, ledger.ClassOf(err).String()).Inc()
}

// WrapVerifier times every verification done by v
func (m *Metrics) WrapVerifier(v ledger.ProofVerifier) ledger.ProofVerifier {
	return &verifier{next: v, m: m}
}

type verifier struct {
	next ledger.ProofVerifier
	m    *Metrics
}

func (v *verifier) Verify(kind zkp.ProofKind, proof []byte, inputs zkp.PublicInputs) error {
	start := time.Now()
	err := v.next.Verify(kind, proof, inputs)
	v.m.verifications.WithLabelValues(kind.String(), result(err)).Observe(time.Since(start).Seconds())
	return err
}

func result(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, zkp.ErrProofRejected):
		return "rejected"
	default:
		return "malformed"
	}
}

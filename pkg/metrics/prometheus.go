package metrics

import (
	"AgentFlow/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	executions      *prometheus.CounterVec
	profit          *prometheus.CounterVec
	agentStatus     *prometheus.GaugeVec
	cycles          prometheus.Counter
	opportunities   *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	pending         prometheus.Gauge
	pendingResolved *prometheus.CounterVec
	signals         *prometheus.CounterVec
	delivered       *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	panics          *prometheus.CounterVec
	relayConnected  prometheus.Gauge
	reconnects      *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// New registers the recorder with the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the recorder with reg; tests pass a fresh registry.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_executions_total",
			Help: "Execution attempts by agent and result",
		}, []string{"agent", "result"}),
		profit: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_execution_profit_total",
			Help: "Sum of positive realized profit by agent",
		}, []string{"agent"}),
		agentStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentflow_agent_status",
			Help: "1 for the current status of each agent, 0 otherwise",
		}, []string{"agent", "status"}),
		cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "agentflow_coordinator_cycles_total",
			Help: "Completed coordinator scan cycles",
		}),
		opportunities: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_coordinator_opportunities_total",
			Help: "Opportunities seen by the coordinator, by stage",
		}, []string{"stage"}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_coordinator_submissions_total",
			Help: "Coordinator submission outcomes",
		}, []string{"result"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "agentflow_coordinator_pending_transactions",
			Help: "Transactions awaiting settlement",
		}),
		pendingResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_coordinator_pending_resolved_total",
			Help: "Pending transactions resolved, by final status",
		}, []string{"status"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_signals_published_total",
			Help: "Signals published on the bus",
		}, []string{"type"}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_signals_delivered_total",
			Help: "Successful subscriber deliveries",
		}, []string{"component"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_signals_dropped_total",
			Help: "Signals or frames dropped, by reason",
		}, []string{"reason"}),
		panics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_subscriber_panics_total",
			Help: "Recovered subscriber panics",
		}, []string{"component"}),
		relayConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "agentflow_relay_connected",
			Help: "1 while the relay channel is open",
		}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_relay_reconnects_total",
			Help: "Relay reconnect attempts by result",
		}, []string{"result"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentflow_errors_total",
			Help: "Total number of errors encountered",
		}, []string{"type"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentflow_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordExecution(agentID string, success bool, profit float64) {
	result := "failure"
	if success {
		result = "success"
	}
	r.executions.WithLabelValues(agentID, result).Inc()
	if profit > 0 {
		r.profit.WithLabelValues(agentID).Add(profit)
	}
}

func (r *Recorder) RecordAgentStatus(agentID string, status models.AgentStatus) {
	for s := models.StatusInitializing; s <= models.StatusError; s++ {
		v := 0.0
		if s == status {
			v = 1
		}
		r.agentStatus.WithLabelValues(agentID, s.String()).Set(v)
	}
}

func (r *Recorder) RecordCoordinatorCycle(found, qualified int) {
	r.cycles.Inc()
	r.opportunities.WithLabelValues("found").Add(float64(found))
	r.opportunities.WithLabelValues("qualified").Add(float64(qualified))
}

func (r *Recorder) RecordSubmission(result string) {
	r.submissions.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordPending(n int) { r.pending.Set(float64(n)) }

func (r *Recorder) RecordPendingResolved(status models.TxStatus) {
	r.pendingResolved.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) RecordSignalPublished(signalType string) {
	r.signals.WithLabelValues(signalType).Inc()
}

func (r *Recorder) RecordSignalDelivered(component string) {
	r.delivered.WithLabelValues(component).Inc()
}

func (r *Recorder) RecordSignalDropped(reason string) {
	r.dropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordSubscriberPanic(component string) {
	r.panics.WithLabelValues(component).Inc()
}

func (r *Recorder) RecordRelayState(connected bool) {
	if connected {
		r.relayConnected.Set(1)
		return
	}
	r.relayConnected.Set(0)
}

func (r *Recorder) RecordRelayReconnect(result string) {
	r.reconnects.WithLabelValues(result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

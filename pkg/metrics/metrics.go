package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/core-tools/hsu-daemonctl/pkg/errors"
)

const (
	Namespace = "daemonctl"

	ResultSuccess = "success"
)

// Recorder receives controller events. Implementations must not block.
type Recorder interface {
	ObserveOperation(operation string, err error, duration time.Duration)
	SetServerState(state string, pid int)
	IncReloadDispatchFailure()
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, error, time.Duration) {}
func (nopRecorder) SetServerState(string, int)                    {}
func (nopRecorder) IncReloadDispatchFailure()                     {}

func NewNopRecorder() Recorder {
	return nopRecorder{}
}

func OrNop(r Recorder) Recorder {
	if r == nil {
		return NewNopRecorder()
	}
	return r
}

// States reported by SetServerState; each gets its own series so the
// current one reads 1 and the others 0.
var States = []string{"not_running", "running", "running_as_other_user", "invalid"}

// PrometheusRecorder keeps collectors in its own registry so a short-lived
// CLI run can dump them to a textfile for node_exporter.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	operations       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	state            *prometheus.GaugeVec
	pid              *prometheus.GaugeVec
	dispatchFailures *prometheus.CounterVec

	daemon string
}

var _ Recorder = (*PrometheusRecorder)(nil)

func NewPrometheusRecorder(daemon string) *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		daemon:   daemon,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "operation",
				Name:      "total",
				Help:      "Number of controller operations by result (success or error type).",
			}, []string{"daemon", "operation", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "operation",
				Name:      "duration_seconds",
				Help:      "Wall time of controller operations including polling.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			}, []string{"daemon", "operation"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "server",
				Name:      "state",
				Help:      "Last observed server state (1 = current state, 0 = other).",
			}, []string{"daemon", "state"},
		),
		pid: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "server",
				Name:      "pid",
				Help:      "Pid of the running server, 0 when not running.",
			}, []string{"daemon"},
		),
		dispatchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "reload",
				Name:      "dispatch_failures_total",
				Help:      "Reload commands that failed to dispatch while the server kept running.",
			}, []string{"daemon"},
		),
	}
	r.registry.MustRegister(r.operations, r.duration, r.state, r.pid, r.dispatchFailures)
	return r
}

func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) ObserveOperation(operation string, err error, duration time.Duration) {
	r.operations.WithLabelValues(r.daemon, operation, resultLabel(err)).Inc()
	r.duration.WithLabelValues(r.daemon, operation).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) SetServerState(state string, pid int) {
	for _, s := range States {
		value := 0.0
		if s == state {
			value = 1
		}
		r.state.WithLabelValues(r.daemon, s).Set(value)
	}
	r.pid.WithLabelValues(r.daemon).Set(float64(pid))
}

func (r *PrometheusRecorder) IncReloadDispatchFailure() {
	r.dispatchFailures.WithLabelValues(r.daemon).Inc()
}

// WriteTextfile atomically writes the registry in text exposition format.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.NewIOError("failed to write metrics textfile: "+path, err)
	}
	return nil
}

func resultLabel(err error) string {
	if err == nil {
		return ResultSuccess
	}
	if t := errors.TypeOf(err); t != "" {
		return string(t)
	}
	return "error"
}

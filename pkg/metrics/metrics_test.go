package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-daemonctl/pkg/errors"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]map[string]float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)

	out := map[string]map[string]float64{}
	for _, mf := range mfs {
		series := map[string]float64{}
		for _, m := range mf.GetMetric() {
			key := ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "daemon" {
					continue
				}
				key += lp.GetName() + "=" + lp.GetValue() + ","
			}
			switch {
			case m.GetCounter() != nil:
				series[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				series[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				series[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
		out[mf.GetName()] = series
	}
	return out
}

func TestPrometheusRecorder_Operations(t *testing.T) {
	r := NewPrometheusRecorder("nginx")

	r.ObserveOperation("start", nil, 300*time.Millisecond)
	r.ObserveOperation("start", errors.NewStartTimeoutError("not up", nil), 10*time.Second)
	r.ObserveOperation("stop", fmt.Errorf("plain"), time.Second)

	got := gather(t, r.Registry())
	assert.Equal(t, 1.0, got["daemonctl_operation_total"]["operation=start,result=success,"])
	assert.Equal(t, 1.0, got["daemonctl_operation_total"]["operation=start,result=start_timeout,"])
	assert.Equal(t, 1.0, got["daemonctl_operation_total"]["operation=stop,result=error,"])
	assert.Equal(t, 2.0, got["daemonctl_operation_duration_seconds"]["operation=start,"])
}

func TestPrometheusRecorder_ServerState(t *testing.T) {
	r := NewPrometheusRecorder("nginx")

	r.SetServerState("running", 4242)
	r.IncReloadDispatchFailure()

	got := gather(t, r.Registry())
	assert.Equal(t, 1.0, got["daemonctl_server_state"]["state=running,"])
	assert.Equal(t, 0.0, got["daemonctl_server_state"]["state=invalid,"])
	assert.Equal(t, 4242.0, got["daemonctl_server_pid"][""])
	assert.Equal(t, 1.0, got["daemonctl_reload_dispatch_failures_total"][""])

	r.SetServerState("not_running", 0)
	got = gather(t, r.Registry())
	assert.Equal(t, 0.0, got["daemonctl_server_state"]["state=running,"])
	assert.Equal(t, 1.0, got["daemonctl_server_state"]["state=not_running,"])
}

func TestPrometheusRecorder_WriteTextfile(t *testing.T) {
	r := NewPrometheusRecorder("nginx")
	r.ObserveOperation("graceful", nil, time.Second)

	path := filepath.Join(t.TempDir(), "daemonctl.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `daemonctl_operation_total{daemon="nginx",operation="graceful",result="success"} 1`)

	err = r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.True(t, errors.IsIOError(err))
}

func TestNopRecorder(t *testing.T) {
	r := OrNop(nil)
	r.ObserveOperation("start", nil, time.Second)
	r.SetServerState("running", 1)
	r.IncReloadDispatchFailure()

	p := NewPrometheusRecorder("nginx")
	assert.Same(t, p, OrNop(p))
}

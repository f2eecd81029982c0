package obs

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type fakeStats struct {
	groups  int
	sockets int
}

func (f fakeStats) ActiveGroupCount() int  { return f.groups }
func (f fakeStats) ActiveSocketCount() int { return f.sockets }

func TestCollectorReportsLiveStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(fakeStats{groups: 3, sockets: 11}))

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var sawGroups, sawSockets bool
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "listen_together_active_groups":
			sawGroups = true
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 3 {
				t.Errorf("active_groups = %v, want 3", got)
			}
		case "listen_together_active_sockets":
			sawSockets = true
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 11 {
				t.Errorf("active_sockets = %v, want 11", got)
			}
		}
	}
	if !sawGroups || !sawSockets {
		t.Fatalf("missing expected metrics, got families: %+v", metricFamilies)
	}
}

func TestMutationsTotalIncrementsByLabel(t *testing.T) {
	MutationsTotal.Reset()
	MutationsTotal.WithLabelValues("play", "ok").Inc()
	MutationsTotal.WithLabelValues("play", "ok").Inc()
	MutationsTotal.WithLabelValues("pause", "conflict").Inc()

	if got := testutil.ToFloat64(MutationsTotal.WithLabelValues("play", "ok")); got != 2 {
		t.Fatalf("play/ok count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(MutationsTotal.WithLabelValues("pause", "conflict")); got != 1 {
		t.Fatalf("pause/conflict count = %v, want 1", got)
	}
}

func TestRunPeriodicLogStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunPeriodicLog(ctx, 5*time.Millisecond, fakeStats{groups: 1, sockets: 2}, zerolog.Nop())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodicLog did not stop after context cancellation")
	}
}

package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetrics_NilSafe(t *testing.T) {
	var pm *PrometheusMetrics
	pm.IncrementCycles("r")
	pm.RecordRoute("a", "b")
	pm.AddInflight(1)
}

func TestPrometheusMetrics_FromRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	e, _ := newTestEngine(t, WithMetrics(pm))
	must(t, e.Add("entry", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
		return NodeResult[testState]{Delta: testState{Count: s.Count + 1}}
	}), Writes("count")))
	must(t, e.Add("x", visit("x"), Writes("a")))
	must(t, e.Add("y", NodeFunc[testState](func(context.Context, testState) NodeResult[testState] {
		return NodeResult[testState]{Err: errors.New("down")}
	}), Writes("b")))
	must(t, e.Add("join", visit("join")))
	must(t, e.StartAt("entry"))
	must(t, e.FanOut("entry", []string{"x", "y"}, "join"))
	must(t, e.Branch("join", func(s testState) string {
		if s.Count < 2 {
			return "entry"
		}
		return End
	}, "entry", End))
	must(t, e.Compile())

	_, err := e.Run(context.Background(), "m", testState{})
	must(t, err)

	if got := testutil.ToFloat64(pm.cycles); got != 2 {
		t.Errorf("cycles_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pm.branchFails.WithLabelValues("y")); got != 2 {
		t.Errorf("branch_failures_total{y} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pm.routes.WithLabelValues("join", "entry")); got != 1 {
		t.Errorf("route join->entry = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.inflightNodes); got != 0 {
		t.Errorf("inflight_nodes = %v after run", got)
	}

	pm.Disable()
	pm.IncrementCycles("m")
	if got := testutil.ToFloat64(pm.cycles); got != 2 {
		t.Errorf("disabled metrics still counted: %v", got)
	}
}

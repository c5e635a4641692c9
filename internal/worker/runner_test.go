package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingWorker struct {
	name  string
	runs  atomic.Int32
	err   error
	ready chan struct{}
	once  sync.Once
}

func (w *countingWorker) Name() string { return w.name }

func (w *countingWorker) Run(ctx context.Context) error {
	w.runs.Add(1)
	w.once.Do(func() { close(w.ready) })
	return w.err
}

func newCountingWorker(name string, err error) *countingWorker {
	return &countingWorker{name: name, err: err, ready: make(chan struct{})}
}

func TestPeriodicWorker_RunsImmediatelyAndStops(t *testing.T) {
	w := newCountingWorker("scan", nil)
	ctx, cancel := context.WithCancel(context.Background())
	pw := NewPeriodicWorker(w, time.Hour, nil)
	pw.Start(ctx)

	select {
	case <-w.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not run on start")
	}
	cancel()
	if !pw.Stop(2 * time.Second) {
		t.Fatal("worker did not stop")
	}
	if got := w.runs.Load(); got != 1 {
		t.Errorf("expected 1 run with a long interval, got %d", got)
	}
}

func TestWorkerGroup_ReportsResults(t *testing.T) {
	var mu sync.Mutex
	results := map[string]error{}
	onResult := func(_ context.Context, name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		results[name] = err
	}

	ok := newCountingWorker("ok", nil)
	bad := newCountingWorker("bad", errors.New("boom"))
	g := NewWorkerGroup(context.Background(), onResult)
	g.Add(ok, time.Hour)
	g.Add(bad, time.Hour)
	g.Start()

	for _, w := range []*countingWorker{ok, bad} {
		select {
		case <-w.ready:
		case <-time.After(2 * time.Second):
			t.Fatalf("worker %s did not run", w.name)
		}
	}
	// Run has returned once ready is closed, but onResult may still be pending.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(results)
		mu.Unlock()
		if n == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	g.Stop(2 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	if err, seen := results["ok"]; !seen || err != nil {
		t.Errorf("ok worker result = %v (seen %v)", err, seen)
	}
	if results["bad"] == nil {
		t.Error("bad worker error not reported")
	}
}

type fakeAlerter struct {
	errors     []string
	recoveries []int
}

func (f *fakeAlerter) SendError(_ context.Context, job string, _ error) error {
	f.errors = append(f.errors, job)
	return nil
}

func (f *fakeAlerter) SendRecovery(_ context.Context, _ string, n int) error {
	f.recoveries = append(f.recoveries, n)
	return nil
}

func TestFailureTracker(t *testing.T) {
	a := &fakeAlerter{}
	tr := NewFailureTracker(a)
	ctx := context.Background()
	boom := errors.New("boom")

	tr.Observe(ctx, "resolve", nil)
	tr.Observe(ctx, "resolve", boom)
	tr.Observe(ctx, "resolve", boom)
	tr.Observe(ctx, "resolve", boom)
	if tr.Failures("resolve") != 3 {
		t.Errorf("Failures() = %d, want 3", tr.Failures("resolve"))
	}
	tr.Observe(ctx, "resolve", nil)
	tr.Observe(ctx, "scan", boom)

	if len(a.errors) != 2 || a.errors[0] != "resolve" || a.errors[1] != "scan" {
		t.Errorf("expected one alert per streak, got %v", a.errors)
	}
	if len(a.recoveries) != 1 || a.recoveries[0] != 3 {
		t.Errorf("expected one recovery after 3 failures, got %v", a.recoveries)
	}
}

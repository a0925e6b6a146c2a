package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fedifeed/relay/internal/metrics"
	"fedifeed/relay/internal/models"
)

type fakeRunner struct {
	mu      sync.Mutex
	runs    map[models.SourceID]int
	ctxErrs []error
	block   map[models.SourceID]chan struct{}
	fail    map[models.SourceID]error
	panics  map[models.SourceID]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		runs:   map[models.SourceID]int{},
		block:  map[models.SourceID]chan struct{}{},
		fail:   map[models.SourceID]error{},
		panics: map[models.SourceID]bool{},
	}
}

func (r *fakeRunner) Run(ctx context.Context, src models.Source) error {
	r.mu.Lock()
	r.runs[src.ID]++
	gate := r.block[src.ID]
	err := r.fail[src.ID]
	boom := r.panics[src.ID]
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	r.mu.Lock()
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	r.mu.Unlock()

	if boom {
		panic("feed parser exploded")
	}
	return err
}

func (r *fakeRunner) count(id models.SourceID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

type fakeLister struct {
	mu      sync.Mutex
	sources []models.Source
}

func (l *fakeLister) ListActive(context.Context) ([]models.Source, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Source(nil), l.sources...), nil
}

func (l *fakeLister) set(sources ...models.Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources = sources
}

type fakeHealth struct {
	mu       sync.Mutex
	outcomes map[models.SourceID][]error
}

func (h *fakeHealth) RecordFetchOutcome(_ context.Context, id models.SourceID, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outcomes == nil {
		h.outcomes = map[models.SourceID][]error{}
	}
	h.outcomes[id] = append(h.outcomes[id], err)
	return nil
}

func (h *fakeHealth) last(id models.SourceID) (error, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.outcomes[id]
	if len(list) == 0 {
		return nil, false
	}
	return list[len(list)-1], true
}

func source(id, schedule string) models.Source {
	return models.Source{ID: models.SourceID(id), URL: "https://" + id + ".example/feed", Schedule: schedule, Active: true}
}

func start(t *testing.T, r Runner, l SourceLister, h HealthRecorder, opts Options) *Scheduler {
	t.Helper()
	if opts.DefaultSchedule == "" {
		opts.DefaultSchedule = "1h"
	}
	s, err := New(r, l, h, opts)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestStartRunsEverySourceOnce(t *testing.T) {
	r := newFakeRunner()
	h := &fakeHealth{}
	l := &fakeLister{sources: []models.Source{source("a", "1h"), source("b", "")}}
	start(t, r, l, h, Options{})

	assert.Eventually(t, func() bool {
		_, a := h.last("a")
		_, b := h.last("b")
		return a && b
	}, waitFor, tick)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, r.count("a"))
	assert.Equal(t, 1, r.count("b"))
	err, _ := h.last("a")
	assert.NoError(t, err)
}

func TestTimerFiresRepeatedly(t *testing.T) {
	r := newFakeRunner()
	l := &fakeLister{sources: []models.Source{source("a", "15ms")}}
	start(t, r, l, &fakeHealth{}, Options{})

	assert.Eventually(t, func() bool { return r.count("a") >= 3 }, waitFor, tick)
}

func TestRunningSourceDropsTriggers(t *testing.T) {
	r := newFakeRunner()
	gate := make(chan struct{})
	r.block["slow"] = gate
	m := metrics.NewUnregistered()
	l := &fakeLister{sources: []models.Source{source("slow", "5ms"), source("fast", "5ms")}}
	s := start(t, r, l, &fakeHealth{}, Options{Workers: 4, Metrics: m})

	assert.Eventually(t, func() bool { return s.Running("slow") }, waitFor, tick)
	assert.Eventually(t, func() bool { return r.count("fast") >= 3 }, waitFor, tick)

	assert.Equal(t, 1, r.count("slow"))
	assert.Equal(t, AlreadyRunning, s.Trigger("slow"))
	assert.Greater(t, promtest.ToFloat64(m.RunsDropped), 0.0)

	close(gate)
	assert.Eventually(t, func() bool { return r.count("slow") >= 2 }, waitFor, tick)
}

func TestFailuresAreRecordedAndIsolated(t *testing.T) {
	r := newFakeRunner()
	r.fail["broken"] = errors.New("dial tcp: connection refused")
	r.panics["panicky"] = true
	h := &fakeHealth{}
	l := &fakeLister{sources: []models.Source{source("broken", "10ms"), source("panicky", "10ms"), source("ok", "10ms")}}
	start(t, r, l, h, Options{})

	assert.Eventually(t, func() bool {
		return r.count("broken") >= 2 && r.count("panicky") >= 2 && r.count("ok") >= 2
	}, waitFor, tick)

	err, ok := h.last("broken")
	require.True(t, ok)
	assert.EqualError(t, err, "dial tcp: connection refused")

	err, ok = h.last("panicky")
	require.True(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed parser exploded")

	err, ok = h.last("ok")
	require.True(t, ok)
	assert.NoError(t, err)
}

func TestTrigger(t *testing.T) {
	r := newFakeRunner()
	h := &fakeHealth{}
	l := &fakeLister{sources: []models.Source{source("a", "1h")}}
	s := start(t, r, l, h, Options{})

	assert.Equal(t, Unknown, s.Trigger("missing"))

	assert.Eventually(t, func() bool { return r.count("a") == 1 && !s.Running("a") }, waitFor, tick)
	assert.Equal(t, Accepted, s.Trigger("a"))
	assert.Eventually(t, func() bool { return r.count("a") == 2 }, waitFor, tick)
}

func TestStopWaitsForInFlightRuns(t *testing.T) {
	r := newFakeRunner()
	gate := make(chan struct{})
	r.block["a"] = gate
	h := &fakeHealth{}
	l := &fakeLister{sources: []models.Source{source("a", "1h")}}

	s, err := New(r, l, h, Options{DefaultSchedule: "1h"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool { return s.Running("a") }, waitFor, tick)

	stopped := make(chan struct{})
	go func() {
		cancel()
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop did not return after the run finished")
	}

	_, recorded := h.last("a")
	assert.True(t, recorded)
	r.mu.Lock()
	assert.Equal(t, []error{nil}, r.ctxErrs)
	r.mu.Unlock()
	assert.Equal(t, Unknown, s.Trigger("a"))
}

func TestResyncFollowsSourceList(t *testing.T) {
	r := newFakeRunner()
	l := &fakeLister{sources: []models.Source{source("old", "10ms")}}
	s := start(t, r, l, &fakeHealth{}, Options{ResyncInterval: 10 * time.Millisecond})

	assert.Eventually(t, func() bool { return r.count("old") >= 1 }, waitFor, tick)

	l.set(source("new", "1h"))
	assert.Eventually(t, func() bool {
		return r.count("new") == 1 && s.Trigger("old") == Unknown
	}, waitFor, tick)

	time.Sleep(20 * time.Millisecond)
	settled := r.count("old")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, r.count("old"))
}

func TestResyncReaddDuringRunDoesNotOverlap(t *testing.T) {
	ctx := context.Background()
	r := newFakeRunner()
	gate := make(chan struct{})
	r.block["a"] = gate
	l := &fakeLister{sources: []models.Source{source("a", "1h")}}
	s := start(t, r, l, &fakeHealth{}, Options{Workers: 4})

	require.Eventually(t, func() bool { return s.Running("a") }, waitFor, tick)

	l.set()
	require.NoError(t, s.resync(ctx))
	assert.Equal(t, Unknown, s.Trigger("a"))

	l.set(source("a", "1h"))
	require.NoError(t, s.resync(ctx))
	assert.True(t, s.Running("a"))
	assert.Equal(t, AlreadyRunning, s.Trigger("a"))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, r.count("a"))

	close(gate)
	require.Eventually(t, func() bool { return !s.Running("a") }, waitFor, tick)
	assert.Equal(t, Accepted, s.Trigger("a"))
	assert.Eventually(t, func() bool { return r.count("a") == 2 }, waitFor, tick)
}

func TestResyncRearmsChangedSchedule(t *testing.T) {
	r := newFakeRunner()
	l := &fakeLister{sources: []models.Source{source("a", "1h")}}
	start(t, r, l, &fakeHealth{}, Options{ResyncInterval: 10 * time.Millisecond})

	assert.Eventually(t, func() bool { return r.count("a") == 1 }, waitFor, tick)

	l.set(source("a", "10ms"))
	assert.Eventually(t, func() bool { return r.count("a") >= 3 }, waitFor, tick)
}

func TestNewRejectsInvalidDefault(t *testing.T) {
	_, err := New(newFakeRunner(), &fakeLister{}, &fakeHealth{}, Options{DefaultSchedule: "sometimes"})
	assert.Error(t, err)
}

func TestParseSchedule(t *testing.T) {
	from := time.Date(2024, 3, 1, 10, 7, 0, 0, time.UTC)
	tests := []struct {
		spec    string
		next    time.Time
		wantErr bool
	}{
		{spec: "15m", next: from.Add(15 * time.Minute)},
		{spec: " 90s ", next: from.Add(90 * time.Second)},
		{spec: "@every 2h", next: from.Add(2 * time.Hour)},
		{spec: "CRON_TZ=UTC @hourly", next: time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)},
		{spec: "CRON_TZ=UTC */15 * * * *", next: time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)},
		{spec: "", wantErr: true},
		{spec: "-5m", wantErr: true},
		{spec: "every so often", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			sched, err := ParseSchedule(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			got := sched.Next(from)
			assert.True(t, tt.next.Equal(got), "next activation %s", got)
		})
	}
}

func TestInvalidSourceScheduleUsesDefault(t *testing.T) {
	s, err := New(newFakeRunner(), &fakeLister{}, &fakeHealth{}, Options{DefaultSchedule: "30m"})
	require.NoError(t, err)

	from := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	got := s.scheduleFor(source("a", "whenever")).Next(from)
	assert.Equal(t, from.Add(30*time.Minute), got)
}

// Package scheduler keeps one timer per active source and runs the source
// pipeline on a bounded pool. A source never has more than one run in
// flight; triggers arriving while it runs are dropped.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"fedifeed/relay/internal/metrics"
	"fedifeed/relay/internal/models"
)

// Runner executes one pipeline run for a source.
type Runner interface {
	Run(ctx context.Context, src models.Source) error
}

// SourceLister returns the sources eligible for polling.
type SourceLister interface {
	ListActive(ctx context.Context) ([]models.Source, error)
}

// HealthRecorder stores the outcome of a run on its source.
type HealthRecorder interface {
	RecordFetchOutcome(ctx context.Context, id models.SourceID, fetchErr error) error
}

// TriggerResult reports what happened to a manual trigger.
type TriggerResult int

const (
	Accepted TriggerResult = iota
	AlreadyRunning
	Unknown
)

func (r TriggerResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case AlreadyRunning:
		return "already_running"
	default:
		return "unknown"
	}
}

// Options tune a Scheduler.
type Options struct {
	// DefaultSchedule applies to sources without a usable schedule.
	DefaultSchedule string
	// ResyncInterval is how often the active source list is reloaded.
	// Zero disables resync.
	ResyncInterval time.Duration
	// Workers bounds concurrent runs; 0 means runtime.NumCPU().
	Workers int
	Metrics *metrics.Metrics
}

type entry struct {
	source   models.Source
	schedule cron.Schedule
	timer    *time.Timer
	gen      uint64
	running  *atomic.Bool
}

// Scheduler drives the per-source timers.
type Scheduler struct {
	runner  Runner
	sources SourceLister
	health  HealthRecorder
	opts    Options

	fallback cron.Schedule
	pool     *semaphore.Weighted
	workers  int

	mu      sync.Mutex
	entries map[models.SourceID]*entry
	// running outlives entries so a source removed and re-added by resync
	// while a run is in flight cannot start a second run.
	running map[models.SourceID]*atomic.Bool
	stopped bool

	ctx    context.Context
	runCtx context.Context
	cancel context.CancelFunc

	inflight sync.WaitGroup
	loops    sync.WaitGroup
}

// New validates opts and creates an idle Scheduler.
func New(runner Runner, sources SourceLister, health HealthRecorder, opts Options) (*Scheduler, error) {
	fallback, err := ParseSchedule(opts.DefaultSchedule)
	if err != nil {
		return nil, fmt.Errorf("default schedule: %w", err)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Scheduler{
		runner:   runner,
		sources:  sources,
		health:   health,
		opts:     opts,
		fallback: fallback,
		pool:     semaphore.NewWeighted(int64(workers)),
		workers:  workers,
		entries:  make(map[models.SourceID]*entry),
		running:  make(map[models.SourceID]*atomic.Bool),
	}, nil
}

// Start arms a timer for every active source and triggers each of them
// once immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	list, err := s.sources.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sources: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.runCtx = context.WithoutCancel(ctx)

	s.mu.Lock()
	started := make([]*entry, 0, len(list))
	for _, src := range list {
		e := s.newEntry(src)
		s.entries[src.ID] = e
		s.arm(e)
		started = append(started, e)
	}
	s.mu.Unlock()

	log.Info().
		Int("sources", len(started)).
		Int("workers", s.workers).
		Dur("resync_interval", s.opts.ResyncInterval).
		Msg("Scheduler started")

	for _, e := range started {
		s.dispatch(e, "startup")
	}

	if s.opts.ResyncInterval > 0 {
		s.loops.Add(1)
		go s.resyncLoop()
	}
	return nil
}

// Stop halts every timer and waits for in-flight runs to finish. Runs
// still waiting for a pool slot are abandoned.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.loops.Wait()
	s.inflight.Wait()
	log.Info().Msg("Scheduler stopped")
}

// Trigger starts an out-of-schedule run of a known source.
func (s *Scheduler) Trigger(id models.SourceID) TriggerResult {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return Unknown
	}
	return s.dispatch(e, "manual")
}

// Running reports whether a run of id is in flight.
func (s *Scheduler) Running(id models.SourceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return ok && e.running.Load()
}

// newEntry builds an entry sharing the run flag of src. Callers hold s.mu.
func (s *Scheduler) newEntry(src models.Source) *entry {
	flag, ok := s.running[src.ID]
	if !ok {
		flag = new(atomic.Bool)
		s.running[src.ID] = flag
	}
	return &entry{source: src, schedule: s.scheduleFor(src), running: flag}
}

func (s *Scheduler) scheduleFor(src models.Source) cron.Schedule {
	if src.Schedule == "" {
		return s.fallback
	}
	sched, err := ParseSchedule(src.Schedule)
	if err != nil {
		log.Warn().Err(err).
			Str("source_id", string(src.ID)).
			Str("default", s.opts.DefaultSchedule).
			Msg("Invalid schedule, using default")
		return s.fallback
	}
	return sched
}

// arm schedules the next activation of e. Callers hold s.mu.
func (s *Scheduler) arm(e *entry) {
	e.gen++
	gen := e.gen
	now := time.Now()
	next := e.schedule.Next(now)
	if next.IsZero() {
		log.Warn().Str("source_id", string(e.source.ID)).Msg("Schedule never fires again")
		return
	}
	e.timer = time.AfterFunc(max(next.Sub(now), 0), func() { s.tick(e, gen) })
}

func (s *Scheduler) tick(e *entry, gen uint64) {
	s.mu.Lock()
	if s.stopped || s.entries[e.source.ID] != e || e.gen != gen {
		s.mu.Unlock()
		return
	}
	s.arm(e)
	s.mu.Unlock()

	s.dispatch(e, "timer")
}

// dispatch moves e from idle to running and hands it to the pool, or drops
// the trigger when e is already running.
func (s *Scheduler) dispatch(e *entry, trigger string) TriggerResult {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Unknown
	}
	src := e.source
	if !e.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.opts.Metrics.RunsDropped.Inc()
		log.Debug().
			Str("source_id", string(src.ID)).
			Str("trigger", trigger).
			Msg("Source still running, trigger dropped")
		return AlreadyRunning
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		defer e.running.Store(false)

		if err := s.pool.Acquire(s.ctx, 1); err != nil {
			return
		}
		defer s.pool.Release(1)

		s.execute(src, trigger)
	}()
	return Accepted
}

func (s *Scheduler) execute(src models.Source, trigger string) {
	logger := log.With().Str("source_id", string(src.ID)).Str("url", src.URL).Logger()
	logger.Debug().Str("trigger", trigger).Msg("Source run started")

	start := time.Now()
	err := s.runSafely(src)
	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Source run failed")
	} else {
		logger.Debug().Dur("duration", time.Since(start)).Msg("Source run finished")
	}

	// RecordFetchOutcome logs its own failures.
	_ = s.health.RecordFetchOutcome(s.runCtx, src.ID, err)
}

func (s *Scheduler) runSafely(src models.Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("source_id", string(src.ID)).
				Bytes("stack", debug.Stack()).
				Msg("Recovered panic in source run")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.runner.Run(s.runCtx, src)
}

func (s *Scheduler) resyncLoop() {
	defer s.loops.Done()

	ticker := time.NewTicker(s.opts.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.resync(s.ctx); err != nil {
				log.Error().Err(err).Msg("Source resync failed")
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// resync reconciles the timers with the current active source list.
func (s *Scheduler) resync(ctx context.Context) error {
	list, err := s.sources.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sources: %w", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}

	seen := make(map[models.SourceID]bool, len(list))
	var added []*entry
	rearmed, removed := 0, 0

	for _, src := range list {
		seen[src.ID] = true
		e, ok := s.entries[src.ID]
		if !ok {
			e = s.newEntry(src)
			s.entries[src.ID] = e
			s.arm(e)
			added = append(added, e)
			continue
		}
		if e.source.Schedule != src.Schedule {
			if e.timer != nil {
				e.timer.Stop()
			}
			e.schedule = s.scheduleFor(src)
			s.arm(e)
			rearmed++
		}
		e.source = src
	}

	for id, e := range s.entries {
		if seen[id] {
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, id)
		removed++
	}
	for id, flag := range s.running {
		if _, ok := s.entries[id]; !ok && !flag.Load() {
			delete(s.running, id)
		}
	}
	s.mu.Unlock()

	if len(added) > 0 || rearmed > 0 || removed > 0 {
		log.Info().
			Int("added", len(added)).
			Int("rearmed", rearmed).
			Int("removed", removed).
			Msg("Sources resynced")
	}

	for _, e := range added {
		s.dispatch(e, "startup")
	}
	return nil
}

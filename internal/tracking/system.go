// Package tracking wires roster sync, the period schedule and live
// recognition into one long-running system.
package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/rostersync"
	"github.com/your-org/rollcall/internal/schedule"
)

type RosterSyncer interface {
	SyncAll(ctx context.Context) ([]models.ClassTimetable, []rostersync.Summary, error)
	SyncClass(ctx context.Context, classID string) (rostersync.Summary, error)
}

type ScheduleEngine interface {
	Load(classes []models.ClassTimetable, now time.Time) *schedule.Schedule
	Reconcile(now time.Time)
	Current() *schedule.Schedule
	Stop()
}

// Runner is a background loop, such as the event dispatcher.
type Runner interface {
	Run(ctx context.Context)
}

type Options struct {
	SyncCron    string
	RefreshCron string
	Location    *time.Location
}

// System owns the cron jobs and background loops of a tracker process.
// It satisfies the sync and schedule interfaces of the HTTP API.
type System struct {
	syncer  RosterSyncer
	engine  ScheduleEngine
	runners []Runner
	cron    *cron.Cron
	now     func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New registers the sync and refresh jobs. It fails on an invalid cron spec.
func New(syncer RosterSyncer, engine ScheduleEngine, opts Options, runners ...Runner) (*System, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{log: slog.Default().With("component", "cron")}

	s := &System{
		syncer:  syncer,
		engine:  engine,
		runners: runners,
		now:     time.Now,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}

	if _, err := s.cron.AddFunc(opts.SyncCron, s.syncJob); err != nil {
		return nil, fmt.Errorf("sync cron %q: %w", opts.SyncCron, err)
	}
	if _, err := s.cron.AddFunc(opts.RefreshCron, s.refreshJob); err != nil {
		return nil, fmt.Errorf("refresh cron %q: %w", opts.RefreshCron, err)
	}
	return s, nil
}

// Start launches the runners, performs the startup sync and starts cron.
// A failed startup sync is logged; the next sync tick retries it.
func (s *System) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	for _, r := range s.runners {
		s.wg.Add(1)
		go func(r Runner) {
			defer s.wg.Done()
			r.Run(runCtx)
		}(r)
	}

	if _, err := s.SyncAll(runCtx); err != nil {
		slog.Error("startup roster sync failed", "error", err)
	}
	s.cron.Start()
	slog.Info("tracking system started", "jobs", len(s.cron.Entries()))
}

// Stop halts cron, waits for a running job, cancels period timers and
// stops the runners.
func (s *System) Stop() {
	<-s.cron.Stop().Done()
	s.engine.Stop()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	slog.Info("tracking system stopped")
}

// SyncAll runs a full roster sync and reloads the schedule from the
// class timetables it listed. Scope failures do not prevent the reload;
// the schedule is kept only when the classes could not be listed.
func (s *System) SyncAll(ctx context.Context) ([]rostersync.Summary, error) {
	classes, sums, err := s.syncer.SyncAll(ctx)
	if err != nil && sums == nil {
		return sums, err
	}
	sched := s.engine.Load(classes, s.now())
	slog.Info("schedule reloaded", "classes", len(classes), "periods", len(sched.Periods))
	return sums, err
}

func (s *System) SyncClass(ctx context.Context, classID string) (rostersync.Summary, error) {
	return s.syncer.SyncClass(ctx, classID)
}

// Current is the applied schedule, nil before the first successful sync.
func (s *System) Current() *schedule.Schedule {
	return s.engine.Current()
}

func (s *System) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *System) syncJob() {
	if _, err := s.SyncAll(s.jobContext()); err != nil {
		slog.Error("scheduled roster sync failed", "error", err)
	}
}

func (s *System) refreshJob() {
	s.engine.Reconcile(s.now())
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}

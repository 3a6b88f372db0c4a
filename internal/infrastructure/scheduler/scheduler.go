package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// TaskFn is a maintenance job body.
type TaskFn func(ctx context.Context) error

// Scheduler runs background maintenance jobs in singleton mode.
type Scheduler struct {
	scheduler gocron.Scheduler
}

func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{scheduler: s}, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
}

func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.scheduler.Jobs())
}

// NewIntervalJob registers fn to run every interval. A run that is still in progress when the next
// one is due is rescheduled rather than overlapped.
func (s *Scheduler) NewIntervalJob(name string, fn TaskFn, interval time.Duration, startImmediately bool) error {
	opts := []gocron.JobOption{gocron.WithSingletonMode(gocron.LimitModeReschedule), gocron.WithName(name)}
	if startImmediately {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(taskWithRecover(fn, name)),
		opts...,
	)
	if err != nil {
		log.Error().Err(err).Str("job", name).Msg("Scheduler creating job error")
	}
	return err
}

func taskWithRecover(fn TaskFn, name string) func(ctx context.Context) {
	return func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("job", name).Interface("panic", r).Str("stacktrace", string(debug.Stack())).Msg("Panic recovered in scheduler job")
			}
		}()

		start := time.Now()
		log.Debug().Str("job", name).Msg("job start")
		if err := fn(ctx); err != nil {
			log.Error().Err(err).Str("job", name).Msg("job failed")
			return
		}
		log.Debug().Str("job", name).Int64("ms", time.Since(start).Milliseconds()).Msg("job completed")
	}
}

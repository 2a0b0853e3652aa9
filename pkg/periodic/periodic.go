// Package periodic runs named jobs on fixed intervals.
//
// Each job gets its own goroutine. The first run happens right away, then
// once per interval. A run that fails is logged and the job simply waits for
// its next tick. Cancellation of the Run context is observed between runs
// only, so an in-flight run finishes (bounded by its timeout) before the
// loop exits.
//
// When several replicas run the same jobs, WithLock makes each tick take a
// named lease first, and a replica that does not get it skips that tick.
package periodic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/estatecrm/pkg/logger"
)

// Func is the work done on every tick.
type Func func(ctx context.Context) error

// Locker hands out named leases. pkg/redis.Locker satisfies it.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

type job struct {
	name     string
	interval time.Duration
	fn       Func
	timeout  time.Duration
	locker   Locker
	lockTTL  time.Duration
}

// JobOption configures a single job.
type JobOption func(*job)

// WithTimeout bounds each run. Defaults to the job interval.
func WithTimeout(d time.Duration) JobOption {
	return func(j *job) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// WithLock takes a lease named after the job before each run.
// ttl should outlive the run; zero means the job timeout.
func WithLock(l Locker, ttl time.Duration) JobOption {
	return func(j *job) {
		j.locker = l
		j.lockTTL = ttl
	}
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// Runner owns the registered jobs.
type Runner struct {
	mu      sync.Mutex
	jobs    []*job
	names   map[string]struct{}
	running bool
	log     *slog.Logger
}

func New(opts ...Option) *Runner {
	r := &Runner{
		names: make(map[string]struct{}),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("periodic"))
	return r
}

// Add registers fn to run every interval under name.
func (r *Runner) Add(name string, interval time.Duration, fn Func, opts ...JobOption) error {
	if name == "" || fn == nil {
		return ErrInvalidJob
	}
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, name)
	}

	j := &job{name: name, interval: interval, fn: fn, timeout: interval}
	for _, opt := range opts {
		opt(j)
	}
	if j.lockTTL <= 0 {
		j.lockTTL = j.timeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}
	if _, ok := r.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobAlreadyRegistered, name)
	}
	r.names[name] = struct{}{}
	r.jobs = append(r.jobs, j)

	r.log.Info("registered periodic job",
		logger.Job(name),
		slog.Duration("interval", interval),
		slog.Bool("locked", j.locker != nil),
	)
	return nil
}

// Run blocks until ctx is cancelled. It returns nil on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if len(r.jobs) == 0 {
		r.mu.Unlock()
		return ErrNoJobs
	}
	r.running = true
	jobs := append([]*job(nil), r.jobs...)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		g.Go(func() error {
			r.loop(ctx, j)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	r.tick(ctx, j)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("periodic job stopped", logger.Job(j.name))
			return
		case <-ticker.C:
			r.tick(ctx, j)
		}
	}
}

func (r *Runner) tick(ctx context.Context, j *job) {
	if ctx.Err() != nil {
		return
	}

	if j.locker != nil {
		unlock, ok, err := j.locker.TryLock(ctx, j.name, j.lockTTL)
		if err != nil {
			r.log.WarnContext(ctx, "periodic job lock failed", logger.Job(j.name), logger.Error(err))
			return
		}
		if !ok {
			r.log.DebugContext(ctx, "periodic job held elsewhere, skipping", logger.Job(j.name))
			return
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				r.log.WarnContext(ctx, "periodic job unlock failed", logger.Job(j.name), logger.Error(err))
			}
		}()
	}

	start := time.Now()
	err := r.run(ctx, j)
	took := time.Since(start)

	if err != nil {
		r.log.ErrorContext(ctx, "periodic job failed",
			logger.Job(j.name),
			logger.Duration(took),
			logger.Error(err),
		)
		return
	}
	r.log.DebugContext(ctx, "periodic job done", logger.Job(j.name), logger.Duration(took))
}

func (r *Runner) run(ctx context.Context, j *job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in periodic job %s: %v", j.name, rec)
		}
	}()
	return j.fn(ctx)
}

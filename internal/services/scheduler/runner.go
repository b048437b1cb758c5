package scheduler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	config "github.com/NordCoder/Zepatrol/internal/config/worker"
)

// Job is a scheduled task besides the check cycle, such as the daily summary.
type Job interface {
	Run(ctx context.Context) error
}

type Runner struct {
	Log   *zap.Logger
	UC    *Usecase
	Daily Job
	Cfg   config.Scheduler
	Grace time.Duration

	mCycles    prometheus.Counter
	mSkipped   *prometheus.CounterVec
	mDue       prometheus.Counter
	mFailed    prometheus.Counter
	mErr       prometheus.Counter
	mLoopDur   prometheus.Histogram
	mLastCycle prometheus.Gauge

	slots []chan struct{}
}

func New(log *zap.Logger, uc *Usecase, daily Job, cfg config.Scheduler, grace time.Duration, reg prometheus.Registerer) *Runner {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Runner{
		Log:   log.With(zap.String("component", "scheduler")),
		UC:    uc,
		Daily: daily,
		Cfg:   cfg,
		Grace: grace,
		mCycles: f.NewCounter(prometheus.CounterOpts{
			Name: "zepatrol_cycles_total", Help: "Check cycles run",
		}),
		mSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zepatrol_jobs_skipped_total", Help: "Triggers skipped because the previous run was still going",
		}, []string{"job"}),
		mDue: f.NewCounter(prometheus.CounterOpts{
			Name: "zepatrol_targets_checked_total", Help: "Due targets probed",
		}),
		mFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "zepatrol_checks_failed_total", Help: "Checks with a failed verdict",
		}),
		mErr: f.NewCounter(prometheus.CounterOpts{
			Name: "zepatrol_scheduler_errors_total", Help: "Errors in the scheduler loop",
		}),
		mLoopDur: f.NewHistogram(prometheus.HistogramOpts{
			Name: "zepatrol_cycle_duration_seconds", Help: "Check cycle duration",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		}),
		mLastCycle: f.NewGauge(prometheus.GaugeOpts{
			Name: "zepatrol_last_cycle_timestamp_seconds", Help: "Unix time the last cycle finished",
		}),
	}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	st, err := r.UC.Tick(ctx)
	r.mCycles.Inc()
	if err != nil {
		r.mErr.Inc()
		r.Log.Warn("tick error", zap.Error(err))
	}
	r.mDue.Add(float64(st.Due))
	r.mFailed.Add(float64(st.Failed))
	if errs := st.PersistErrors + st.Panicked; errs > 0 {
		r.mErr.Add(float64(errs))
	}
	r.mLoopDur.Observe(time.Since(start).Seconds())
	r.mLastCycle.SetToCurrentTime()
	r.Log.Info("cycle done",
		zap.Int("listed", st.Listed),
		zap.Int("due", st.Due),
		zap.Int("failed", st.Failed),
		zap.Int("alerts", st.AlertsRaised),
		zap.Int("persist_errors", st.PersistErrors),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func (r *Runner) daily(ctx context.Context) {
	if err := r.Daily.Run(ctx); err != nil {
		r.mErr.Inc()
		r.Log.Warn("daily job error", zap.Error(err))
	}
}

// Run schedules the check cycle and the daily job and blocks until ctx is
// done. Running jobs are not cancelled; Run waits up to Grace for them.
func (r *Runner) Run(ctx context.Context) error {
	jobCtx := context.WithoutCancel(ctx)
	logger := cronLogger{r.Log.Sugar()}
	recoverer := cron.Recover(logger)
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(recoverer),
	)

	cycle := r.skipIfRunning("check_cycle")(cron.FuncJob(func() { r.tick(jobCtx) }))
	if _, err := c.AddJob(r.Cfg.Cron, cycle); err != nil {
		return err
	}
	if r.Daily != nil && r.Cfg.DailyCron != "" {
		daily := r.skipIfRunning("daily_summary")(cron.FuncJob(func() { r.daily(jobCtx) }))
		if _, err := c.AddJob(r.Cfg.DailyCron, daily); err != nil {
			return err
		}
	}

	c.Start()
	r.Log.Info("scheduler started", zap.String("cron", r.Cfg.Cron), zap.String("daily_cron", r.Cfg.DailyCron))
	if r.Cfg.RunOnStart {
		go cron.NewChain(recoverer).Then(cycle).Run()
	}

	<-ctx.Done()
	c.Stop()
	grace := r.Grace
	if grace <= 0 {
		grace = 3 * time.Second
	}
	// waits on the job slots, which also covers a run started by RunOnStart
	if !r.waitIdle(grace) {
		r.Log.Warn("running jobs did not finish in time", zap.Duration("grace", grace))
	}
	return ctx.Err()
}

// skipIfRunning drops a trigger while the previous run of the same job is
// still in progress and counts the drop.
func (r *Runner) skipIfRunning(name string) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		ch := make(chan struct{}, 1)
		ch <- struct{}{}
		r.slots = append(r.slots, ch)
		return cron.FuncJob(func() {
			select {
			case v := <-ch:
				defer func() { ch <- v }()
				j.Run()
			default:
				r.mSkipped.WithLabelValues(name).Inc()
				r.Log.Info("skip", zap.String("job", name))
			}
		})
	}
}

func (r *Runner) waitIdle(grace time.Duration) bool {
	deadline := time.After(grace)
	for _, ch := range r.slots {
		select {
		case v := <-ch:
			ch <- v
		case <-deadline:
			return false
		}
	}
	return true
}

type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...any) { l.s.Debugw(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Zepatrol/internal/domain/clock"
	"github.com/NordCoder/Zepatrol/internal/domain/policy"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
	"github.com/NordCoder/Zepatrol/internal/obs"
	"github.com/NordCoder/Zepatrol/internal/services/alerting"
	"github.com/NordCoder/Zepatrol/internal/services/probe"
)

type Prober interface {
	Probe(ctx context.Context, spec target.Spec) probe.Outcome
}

type StateMachine interface {
	Apply(ctx context.Context, tgt *target.Target, tn *tenant.Tenant, out probe.Outcome, now time.Time) alerting.Result
}

// Stats summarizes one cycle.
type Stats struct {
	Listed        int
	Due           int
	Failed        int
	AlertsRaised  int
	PersistErrors int
	Skipped       int
	Panicked      int
}

type Usecase struct {
	Targets target.Repo
	Tenants tenant.Repo
	Policy  policy.Policy
	Prober  Prober
	Machine StateMachine
	Clock   clock.Clock

	// Workers > 1 checks targets concurrently; a target is still handled
	// by exactly one worker.
	Workers int
	Log     *zap.Logger
}

// Tick runs one check cycle over every monitoring-enabled target. Only a
// failure to list targets is returned; per-target errors are logged and
// counted in Stats.
func (u *Usecase) Tick(ctx context.Context) (Stats, error) {
	tr := otel.Tracer("scheduler.uc")
	ctx, span := tr.Start(ctx, "scheduler.tick")
	defer span.End()

	var st Stats
	targets, err := u.Targets.ListMonitored(ctx)
	if err != nil {
		span.RecordError(err)
		return st, fmt.Errorf("list monitored targets: %w", err)
	}
	st.Listed = len(targets)
	span.SetAttributes(attribute.Int("batch.listed", len(targets)))

	c := &cycle{uc: u, tenants: make(map[int64]*tenant.Tenant)}

	workers := u.Workers
	if workers <= 1 || len(targets) <= 1 {
		for _, t := range targets {
			c.handle(ctx, t)
		}
	} else {
		if workers > len(targets) {
			workers = len(targets)
		}
		ch := make(chan *target.Target)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for t := range ch {
					c.handle(ctx, t)
				}
			}()
		}
		for _, t := range targets {
			ch <- t
		}
		close(ch)
		wg.Wait()
	}

	st.Due, st.Failed, st.AlertsRaised = c.due, c.failed, c.raised
	st.PersistErrors, st.Skipped, st.Panicked = c.persistErrs, c.skipped, c.panicked
	span.SetAttributes(
		attribute.Int("batch.due", st.Due),
		attribute.Int("batch.failed", st.Failed),
		attribute.Int("batch.persist_errors", st.PersistErrors),
	)
	return st, nil
}

// cycle holds the per-cycle tenant cache and counters.
type cycle struct {
	uc *Usecase

	mu      sync.Mutex
	tenants map[int64]*tenant.Tenant

	due, failed, raised, persistErrs, skipped, panicked int
}

func (c *cycle) count(fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
}

func (c *cycle) tenant(ctx context.Context, id int64) (*tenant.Tenant, error) {
	c.mu.Lock()
	tn, ok := c.tenants[id]
	c.mu.Unlock()
	if ok {
		return tn, nil
	}
	tn, err := c.uc.Tenants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.tenants[id] = tn
	c.mu.Unlock()
	return tn, nil
}

func (c *cycle) handle(ctx context.Context, tgt *target.Target) {
	u := c.uc
	log := u.Log.With(zap.Int64("target_id", tgt.ID))

	defer func() {
		if rec := recover(); rec != nil {
			c.count(func() { c.panicked++ })
			obs.WithTrace(ctx, log).Error("target handling panicked", zap.Any("panic", rec))
		}
	}()

	if !tgt.Monitoring {
		return
	}

	tn, err := c.tenant(ctx, tgt.TenantID)
	if err != nil {
		c.count(func() { c.skipped++ })
		log.Warn("tenant lookup failed, target skipped", zap.Int64("tenant_id", tgt.TenantID), zap.Error(err))
		return
	}

	now := u.Clock.Now()
	dec := u.Policy.Evaluate(tn.Tier, tgt.Category, tgt.LastCheck, now)
	if !dec.Due {
		return
	}
	c.count(func() { c.due++ })

	ctx, span := otel.Tracer("scheduler.uc").Start(ctx, "scheduler.check",
		trace.WithAttributes(
			attribute.Int64("target.id", tgt.ID),
			attribute.String("target.category", string(tgt.Category)),
			attribute.String("tenant.tier", string(tn.Tier)),
		),
	)
	defer span.End()
	log = obs.WithTrace(ctx, log)

	if tgt.ConfigErr != nil {
		log.Error("invalid probe config, using empty keyword", zap.Error(tgt.ConfigErr))
	}

	raw := c.probe(ctx, tgt)
	out := probe.Verdict(tgt.Category, raw, tgt.LastScore)
	if !out.OK {
		c.count(func() { c.failed++ })
		span.SetAttributes(attribute.String("check.error", out.Error))
	}

	res := u.Machine.Apply(ctx, tgt, tn, out, now)
	if res.Err != nil {
		log.Error("alert handling failed", zap.Error(res.Err))
	}
	if n := len(res.Raised); n > 0 {
		c.count(func() { c.raised += n })
	}

	checked := now
	tgt.LastCheck = &checked
	if err := u.Targets.Update(ctx, tgt); err != nil {
		c.count(func() { c.persistErrs++ })
		span.RecordError(err)
		log.Error("persist target state", zap.Error(err))
		return
	}
	log.Debug("target checked",
		zap.Bool("ok", out.OK),
		zap.String("status", string(tgt.Status)),
		zap.Int("consecutive_failures", tgt.ConsecutiveFailures),
	)
}

func (c *cycle) probe(ctx context.Context, tgt *target.Target) (out probe.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = probe.Failed(fmt.Sprint(rec))
		}
	}()
	return c.uc.Prober.Probe(ctx, tgt.Probe)
}

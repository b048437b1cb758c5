package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
	"github.com/NordCoder/Zepatrol/internal/domain/notification"
	"github.com/NordCoder/Zepatrol/internal/domain/outbox"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
	"github.com/NordCoder/Zepatrol/internal/obs"
	"github.com/NordCoder/Zepatrol/internal/services/probe"
)

type Config struct {
	FailureThreshold    int
	StagnationThreshold int

	// ResetOnRaise zeroes the failure streak once a downtime alert is raised.
	ResetOnRaise bool
}

type Notifier interface {
	Notify(ctx context.Context, tn *tenant.Tenant, tgt *target.Target, a *alert.Alert) notification.Delivery
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Deps struct {
	Alerts   alert.Repo
	Notifier Notifier

	// Tx and Outbox are optional. With an outbox every raised alert is
	// enqueued in the same transaction as its insert.
	Tx     Transactor
	Outbox outbox.Repository

	Log *zap.Logger
	Reg prometheus.Registerer
}

// Machine owns the downtime and score-stagnation tracks of a target.
type Machine struct {
	cfg      Config
	alerts   alert.Repo
	notifier Notifier
	tx       Transactor
	outbox   outbox.Repository
	log      *zap.Logger

	mRaised      *prometheus.CounterVec
	mDeduped     *prometheus.CounterVec
	mRedelivered *prometheus.CounterVec
	mRaiseErrs   *prometheus.CounterVec
	mUnsent      *prometheus.CounterVec
}

func New(cfg Config, d Deps) *Machine {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.StagnationThreshold <= 0 {
		cfg.StagnationThreshold = 3
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	if d.Reg == nil {
		d.Reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(d.Reg)
	return &Machine{
		cfg:      cfg,
		alerts:   d.Alerts,
		notifier: d.Notifier,
		tx:       d.Tx,
		outbox:   d.Outbox,
		log:      log.With(zap.String("component", "alerting")),
		mRaised: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zepatrol_alerts_raised_total", Help: "Alerts persisted, by kind.",
		}, []string{"kind"}),
		mDeduped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zepatrol_alerts_deduped_total", Help: "Threshold hits suppressed by an open alert.",
		}, []string{"kind"}),
		mRedelivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zepatrol_alerts_redelivered_total", Help: "Open alerts delivered on a later cycle.",
		}, []string{"kind"}),
		mRaiseErrs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zepatrol_alert_raise_errors_total", Help: "Alert persist or mark-sent failures.",
		}, []string{"kind"}),
		mUnsent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zepatrol_alerts_left_open_total", Help: "Raised alerts whose primary delivery did not succeed.",
		}, []string{"kind"}),
	}
}

// Result lists what one Apply call did beyond mutating the target.
type Result struct {
	Raised      []*alert.Alert
	Deduped     []alert.Kind
	// Redelivered holds open alerts whose delivery succeeded this cycle.
	Redelivered []*alert.Alert
	Err         error
}

// Apply folds one verdict outcome into the target state and raises alerts
// when a track crosses its threshold. Errors from alert handling are
// reported in Result.Err; the target fields are updated regardless.
func (m *Machine) Apply(ctx context.Context, tgt *target.Target, tn *tenant.Tenant, out probe.Outcome, now time.Time) Result {
	ctx, span := otel.Tracer("alerting").Start(ctx, "alerting.apply",
		trace.WithAttributes(
			attribute.Int64("target.id", tgt.ID),
			attribute.Bool("outcome.ok", out.OK),
		),
	)
	defer span.End()

	var res Result

	tgt.LastResponseTime = out.LatencyMS
	if out.OK {
		tgt.Status = target.StatusHealthy
		tgt.LastError = ""
		tgt.ConsecutiveFailures = 0
	} else {
		tgt.Status = target.StatusUnhealthy
		tgt.LastError = out.Error
		if tgt.LastError == "" {
			tgt.LastError = "unknown"
		}
		tgt.ConsecutiveFailures++
		at := now
		tgt.LastFailureAt = &at
	}

	if !out.OK && tgt.ConsecutiveFailures >= m.cfg.FailureThreshold {
		a, err := m.escalate(ctx, tgt, tn, alert.KindDowntime, downtimeMessage(tgt.Name, tgt.LastError), now, &res)
		if err != nil {
			res.Err = errors.Join(res.Err, err)
		}
		if a != nil && m.cfg.ResetOnRaise {
			tgt.ConsecutiveFailures = 0
		}
	}

	if tgt.Category.ScoreBearing() {
		m.applyScore(ctx, tgt, tn, out, now, &res)
	}

	if res.Err != nil {
		span.RecordError(res.Err)
	}
	span.SetAttributes(attribute.Int("alerts.raised", len(res.Raised)))
	return res
}

func (m *Machine) applyScore(ctx context.Context, tgt *target.Target, tn *tenant.Tenant, out probe.Outcome, now time.Time, res *Result) {
	online := out.OK || out.Stagnant
	if online && out.Score != nil {
		s, at := *out.Score, now
		tgt.LastScore = &s
		tgt.LastScoreUpdate = &at
	}

	if out.OK {
		tgt.ConsecutiveNoScoreIncrease = 0
		return
	}
	tgt.ConsecutiveNoScoreIncrease++
	if tgt.ConsecutiveNoScoreIncrease < m.cfg.StagnationThreshold {
		return
	}

	msg := stagnationMessage(tgt.Name, tgt.ConsecutiveNoScoreIncrease, tgt.LastScore)
	a, err := m.escalate(ctx, tgt, tn, alert.KindScoreStagnation, msg, now, res)
	if err != nil {
		res.Err = errors.Join(res.Err, err)
	}
	// the condition stays armed until the tenant has actually been told
	if a != nil && a.Sent {
		tgt.ConsecutiveNoScoreIncrease = 0
	}
}

// escalate raises an alert of kind unless one is already open, in which
// case the open alert is delivered again. It returns the persisted or open
// alert, nil when nothing could be stored or found.
func (m *Machine) escalate(ctx context.Context, tgt *target.Target, tn *tenant.Tenant, kind alert.Kind, msg string, now time.Time, res *Result) (*alert.Alert, error) {
	log := obs.WithTrace(ctx, m.log).With(zap.Int64("target_id", tgt.ID), zap.String("kind", string(kind)))

	open, err := m.alerts.FindOpen(ctx, tgt.ID, kind)
	if err != nil {
		m.mRaiseErrs.WithLabelValues(string(kind)).Inc()
		return nil, fmt.Errorf("find open %s alert: %w", kind, err)
	}
	if open != nil {
		m.mDeduped.WithLabelValues(string(kind)).Inc()
		res.Deduped = append(res.Deduped, kind)
		log.Debug("alert already open", zap.Int64("alert_id", open.ID))
		if err := m.deliver(ctx, log, tn, tgt, open); err != nil {
			return open, err
		}
		if open.Sent {
			m.mRedelivered.WithLabelValues(string(kind)).Inc()
			res.Redelivered = append(res.Redelivered, open)
		}
		return open, nil
	}

	a := &alert.Alert{
		TenantID:  tgt.TenantID,
		TargetID:  tgt.ID,
		Kind:      kind,
		Severity:  kind.Severity(),
		Message:   msg,
		CreatedAt: now,
	}
	if err := m.persist(ctx, a); err != nil {
		if errors.Is(err, alert.ErrOpenExists) {
			m.mDeduped.WithLabelValues(string(kind)).Inc()
			res.Deduped = append(res.Deduped, kind)
			return nil, nil
		}
		m.mRaiseErrs.WithLabelValues(string(kind)).Inc()
		return nil, err
	}
	m.mRaised.WithLabelValues(string(kind)).Inc()
	res.Raised = append(res.Raised, a)
	log.Warn("alert raised", zap.Int64("alert_id", a.ID), zap.String("message", a.Message))

	return a, m.deliver(ctx, log, tn, tgt, a)
}

// deliver notifies the tenant and flips a to sent when the primary channel
// succeeded. Otherwise a stays open for a later cycle.
func (m *Machine) deliver(ctx context.Context, log *zap.Logger, tn *tenant.Tenant, tgt *target.Target, a *alert.Alert) error {
	kind := string(a.Kind)
	if m.notifier == nil {
		m.mUnsent.WithLabelValues(kind).Inc()
		return nil
	}
	d := m.notifier.Notify(ctx, tn, tgt, a)
	if d.Primary != notification.DeliverySent {
		m.mUnsent.WithLabelValues(kind).Inc()
		log.Info("alert left open", zap.Int64("alert_id", a.ID), zap.String("primary", string(d.Primary)))
		return nil
	}
	if err := m.markSent(ctx, a); err != nil {
		m.mRaiseErrs.WithLabelValues(kind).Inc()
		return err
	}
	a.Sent = true
	return nil
}

func (m *Machine) persist(ctx context.Context, a *alert.Alert) error {
	run := func(ctx context.Context) error {
		if err := m.alerts.Create(ctx, a); err != nil {
			return fmt.Errorf("create alert: %w", err)
		}
		if m.outbox == nil {
			return nil
		}
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal alert event: %w", err)
		}
		if err := m.outbox.Enqueue(ctx, EventKey(a), outbox.KindAlertRaised, b); err != nil {
			return fmt.Errorf("outbox enqueue: %w", err)
		}
		return nil
	}
	if m.tx == nil {
		return run(ctx)
	}
	return m.tx.WithTx(ctx, run)
}

// markSent flips the sent flag after a primary delivery. Downtime alerts
// are matched by target, stagnation alerts individually.
func (m *Machine) markSent(ctx context.Context, a *alert.Alert) error {
	if a.Kind == alert.KindDowntime {
		if _, err := m.alerts.MarkOpenSent(ctx, a.TargetID, a.Kind); err != nil {
			return fmt.Errorf("mark downtime alerts sent: %w", err)
		}
		return nil
	}
	if err := m.alerts.MarkSent(ctx, a.ID); err != nil {
		return fmt.Errorf("mark alert %d sent: %w", a.ID, err)
	}
	return nil
}

// EventKey is the outbox idempotency key of an alert-raised event.
func EventKey(a *alert.Alert) string { return fmt.Sprintf("alert:%d", a.ID) }

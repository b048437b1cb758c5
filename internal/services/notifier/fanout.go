package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
	"github.com/NordCoder/Zepatrol/internal/domain/clock"
	"github.com/NordCoder/Zepatrol/internal/domain/notification"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
	"github.com/NordCoder/Zepatrol/internal/obs"
)

type Deps struct {
	// Audit stores a record per successful send. Optional.
	Audit   notification.Repo
	Timeout time.Duration
	Clock   clock.Clock
	Log     *zap.Logger
	Reg     prometheus.Registerer
}

// Ref ties a delivery to the alert and target it reports, for the audit log.
type Ref struct {
	AlertID  *int64
	TargetID *int64
}

// FanOut attempts the primary and the secondary channel independently. A
// nil secondary disables it.
type FanOut struct {
	primary   Channel
	secondary Channel
	audit     notification.Repo
	timeout   time.Duration
	clock     clock.Clock
	log       *zap.Logger

	mSent   *prometheus.CounterVec
	mFailed *prometheus.CounterVec
	mSkip   *prometheus.CounterVec
}

func NewFanOut(primary, secondary Channel, d Deps) *FanOut {
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Reg == nil {
		d.Reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(d.Reg)
	return &FanOut{
		primary:   primary,
		secondary: secondary,
		audit:     d.Audit,
		timeout:   d.Timeout,
		clock:     d.Clock,
		log:       d.Log.With(zap.String("component", "notifier")),
		mSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zepatrol_notifications_sent_total", Help: "Successful channel sends.",
		}, []string{"channel"}),
		mFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zepatrol_notifications_failed_total", Help: "Failed channel sends.",
		}, []string{"channel"}),
		mSkip: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zepatrol_notifications_skipped_total", Help: "Sends skipped for lack of an address.",
		}, []string{"channel"}),
	}
}

// Notify renders the alert and delivers it on both channels.
func (f *FanOut) Notify(ctx context.Context, tn *tenant.Tenant, tgt *target.Target, a *alert.Alert) notification.Delivery {
	msg, err := RenderAlert(tn, tgt, a)
	if err != nil {
		obs.WithTrace(ctx, f.log).Error("render alert", zap.Int64("alert_id", a.ID), zap.Error(err))
		return notification.Delivery{Primary: notification.DeliveryFailed, Secondary: notification.DeliveryFailed}
	}
	alertID, targetID := a.ID, tgt.ID
	return f.Deliver(ctx, tn, msg, Ref{AlertID: &alertID, TargetID: &targetID})
}

// Deliver sends an already rendered message. Channels run concurrently and
// one never affects the other's status.
func (f *FanOut) Deliver(ctx context.Context, tn *tenant.Tenant, msg Message, ref Ref) notification.Delivery {
	ctx, span := otel.Tracer("notifier").Start(ctx, "notifier.deliver")
	defer span.End()

	d := notification.Delivery{Primary: notification.DeliverySkipped, Secondary: notification.DeliverySkipped}
	var wg sync.WaitGroup
	if f.primary != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Primary = f.send(ctx, f.primary, tn, msg, ref)
		}()
	}
	if f.secondary != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Secondary = f.send(ctx, f.secondary, tn, msg, ref)
		}()
	}
	wg.Wait()

	span.SetAttributes(
		attribute.String("delivery.primary", string(d.Primary)),
		attribute.String("delivery.secondary", string(d.Secondary)),
	)
	return d
}

func (f *FanOut) send(ctx context.Context, ch Channel, tn *tenant.Tenant, msg Message, ref Ref) (st notification.DeliveryStatus) {
	kind := string(ch.Kind())
	log := obs.WithTrace(ctx, f.log).With(zap.String("channel", kind), zap.Int64("tenant_id", tn.ID))

	defer func() {
		if rec := recover(); rec != nil {
			f.mFailed.WithLabelValues(kind).Inc()
			log.Error("channel panic", zap.Any("panic", rec))
			st = notification.DeliveryFailed
		}
	}()

	addr, ok := ch.Address(tn)
	if !ok {
		f.mSkip.WithLabelValues(kind).Inc()
		log.Debug("no address for channel")
		return notification.DeliverySkipped
	}

	sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := ch.Send(sendCtx, addr, msg); err != nil {
		f.mFailed.WithLabelValues(kind).Inc()
		log.Warn("notification failed", zap.Error(err))
		return notification.DeliveryFailed
	}
	f.mSent.WithLabelValues(kind).Inc()

	if f.audit != nil {
		payload := msg.Text
		if ch.Kind() == notification.ChannelTelegram {
			payload = msg.HTML
		}
		rec := &notification.Notification{
			AlertID:  ref.AlertID,
			TenantID: tn.ID,
			TargetID: ref.TargetID,
			Channel:  ch.Kind(),
			SentAt:   f.clock.Now(),
			Payload:  payload,
		}
		if err := f.audit.Create(ctx, rec); err != nil {
			log.Warn("store notification record", zap.Error(err))
		}
	}
	return notification.DeliverySent
}

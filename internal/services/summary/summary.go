package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
	"github.com/NordCoder/Zepatrol/internal/domain/clock"
	"github.com/NordCoder/Zepatrol/internal/domain/notification"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
	"github.com/NordCoder/Zepatrol/internal/services/notifier"
)

const (
	TrendIncreasing = "increasing"
	TrendStagnant   = "stagnant"
	TrendNone       = "n/a"
)

type Deliverer interface {
	Deliver(ctx context.Context, tn *tenant.Tenant, msg notifier.Message, ref notifier.Ref) notification.Delivery
}

// Summary is the daily rollup of one tenant.
type Summary struct {
	Date           string
	Tenant         string
	TotalTargets   int
	HealthyTargets int
	Alerts24h      int
	Targets        []Line
}

type Line struct {
	Name       string
	Status     target.Status
	Alerts24h  int
	Score      *float64
	Trend      string
	LastCheck  *time.Time
	ResponseMS *int64
}

type Service struct {
	Tenants tenant.Repo
	Targets target.Repo
	Alerts  alert.Repo
	Out     Deliverer
	Clock   clock.Clock
	Log     *zap.Logger
}

// Run builds and sends the summary of every tenant that has targets. A
// failure for one tenant does not stop the others.
func (s *Service) Run(ctx context.Context) error {
	ctx, span := otel.Tracer("summary").Start(ctx, "summary.run")
	defer span.End()

	tenants, err := s.Tenants.List(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("list tenants: %w", err)
	}

	var errs []error
	sent := 0
	for _, tn := range tenants {
		log := s.Log.With(zap.Int64("tenant_id", tn.ID))
		sum, err := s.Build(ctx, tn)
		if err != nil {
			log.Error("build daily summary", zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if sum.TotalTargets == 0 {
			continue
		}
		msg, err := Render(sum)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d := s.Out.Deliver(ctx, tn, msg, notifier.Ref{})
		if d.Primary == notification.DeliverySkipped {
			log.Warn("no email address for daily summary")
		}
		if d.Primary == notification.DeliverySent || d.Secondary == notification.DeliverySent {
			sent++
		}
		log.Info("daily summary delivered",
			zap.String("primary", string(d.Primary)),
			zap.String("secondary", string(d.Secondary)),
		)
	}
	span.SetAttributes(attribute.Int("summary.tenants", len(tenants)), attribute.Int("summary.sent", sent))
	return errors.Join(errs...)
}

func (s *Service) Build(ctx context.Context, tn *tenant.Tenant) (Summary, error) {
	now := s.Clock.Now()
	since := now.Add(-24 * time.Hour)

	targets, err := s.Targets.ListByTenant(ctx, tn.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("list targets of tenant %d: %w", tn.ID, err)
	}

	sum := Summary{
		Date:         now.Format("2006-01-02"),
		Tenant:       tn.Name,
		TotalTargets: len(targets),
	}
	for _, t := range targets {
		n, err := s.Alerts.CountByTargetSince(ctx, t.ID, since)
		if err != nil {
			return Summary{}, fmt.Errorf("count alerts of target %d: %w", t.ID, err)
		}
		if t.Status == target.StatusHealthy {
			sum.HealthyTargets++
		}
		sum.Alerts24h += n
		sum.Targets = append(sum.Targets, Line{
			Name:       t.Name,
			Status:     t.Status,
			Alerts24h:  n,
			Score:      t.LastScore,
			Trend:      trend(t),
			LastCheck:  t.LastCheck,
			ResponseMS: t.LastResponseTime,
		})
	}
	return sum, nil
}

func trend(t *target.Target) string {
	if t.LastScore == nil {
		return TrendNone
	}
	if t.ConsecutiveNoScoreIncrease == 0 {
		return TrendIncreasing
	}
	return TrendStagnant
}

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
	"github.com/NordCoder/Zepatrol/internal/domain/kafka"
	"github.com/NordCoder/Zepatrol/internal/domain/outbox"
	"github.com/NordCoder/Zepatrol/internal/obs/retry"
)

var (
	outboxHandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zepatrol_outbox_handler_latency_seconds",
		Help:    "Latency of outbox handlers including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	outboxHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zepatrol_outbox_handler_errors_total",
		Help: "Errors in outbox handlers (after retries).",
	}, []string{"kind"})
)

var ErrUnsupportedKind = errors.New("unsupported outbox kind")

func instrument(kind outbox.Kind, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	if pol.Name == "" {
		pol.Name = "outbox_" + kind.String()
	}
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle")
		defer span.End()

		start := time.Now()
		err := retry.Do(ctx, func() error { return h(ctx, data) }, pol)
		outboxHandlerLatency.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			outboxHandlerErrors.WithLabelValues(kind.String()).Inc()
		}
		return err
	}
}

// MakeGlobalOutboxHandler maps kinds to publishing handlers. A payload that
// does not decode is permanent and skips the retry loop.
func MakeGlobalOutboxHandler(pub kafka.AlertEvents, pol retry.Policy) outbox.GlobalHandler {
	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		switch kind {
		case outbox.KindAlertRaised:
			base := func(ctx context.Context, data []byte) error {
				var a alert.Alert
				if err := json.Unmarshal(data, &a); err != nil {
					return fmt.Errorf("unmarshal alert payload: %w: %v", retry.ErrPermanent, err)
				}
				return pub.PublishAlertRaised(ctx, &a)
			}
			return instrument(kind, base, pol), nil
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedKind, kind)
		}
	}
}

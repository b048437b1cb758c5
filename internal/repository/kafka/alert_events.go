package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
	"github.com/NordCoder/Zepatrol/internal/domain/kafka"
)

const eventAlertRaised = "alert.raised"

type AlertEventsKafka struct {
	p *Producer
}

func NewAlertEventsKafka(p *Producer) *AlertEventsKafka { return &AlertEventsKafka{p: p} }

var _ kafka.AlertEvents = (*AlertEventsKafka)(nil)

// PublishAlertRaised keys the message by target so events of one node stay
// ordered within a partition.
func (e *AlertEventsKafka) PublishAlertRaised(ctx context.Context, a *alert.Alert) error {
	ev, err := AlertRaisedEvent(a)
	if err != nil {
		return err
	}
	return e.p.PublishProto(ctx, KeyFromInt64(a.TargetID), ev)
}

// EventID is stable for an alert so consumers can drop relay duplicates.
func EventID(a *alert.Alert) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("alert:%d", a.ID))).String()
}

func AlertRaisedEvent(a *alert.Alert) (*structpb.Struct, error) {
	ts := timestamppb.New(a.CreatedAt)
	if err := ts.CheckValid(); err != nil {
		return nil, fmt.Errorf("alert %d created_at: %w", a.ID, err)
	}
	ev, err := structpb.NewStruct(map[string]any{
		"event_id":   EventID(a),
		"type":       eventAlertRaised,
		"alert_id":   float64(a.ID),
		"tenant_id":  float64(a.TenantID),
		"target_id":  float64(a.TargetID),
		"kind":       string(a.Kind),
		"severity":   string(a.Severity),
		"message":    a.Message,
		"created_at": ts.AsTime().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("build alert event: %w", err)
	}
	return ev, nil
}

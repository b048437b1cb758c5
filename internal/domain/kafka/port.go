package kafka

import (
	"context"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
)

type AlertEvents interface {
	PublishAlertRaised(ctx context.Context, a *alert.Alert) error
}

package alert

import (
	"errors"
	"time"
)

// ErrOpenExists is returned by Create when an unsent alert of the same kind
// already exists for the target.
var ErrOpenExists = errors.New("open alert exists")

type Kind string

const (
	KindDowntime        Kind = "downtime"
	KindScoreStagnation Kind = "score_stagnation"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

func (k Kind) Severity() Severity {
	if k == KindDowntime {
		return SeverityHigh
	}
	return SeverityMedium
}

type Alert struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	TargetID  int64     `json:"target_id"`
	Kind      Kind      `json:"kind"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Sent      bool      `json:"sent"`
	CreatedAt time.Time `json:"created_at"`
}

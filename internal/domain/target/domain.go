package target

import (
	"time"
)

type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Category decides the interval row and the verdict applied on top of a probe outcome.
type Category string

const (
	CategoryStandard Category = "standard"
	CategoryScore    Category = "score"
)

func ParseCategory(s string) Category {
	switch s {
	case string(CategoryScore), "genys":
		return CategoryScore
	default:
		return CategoryStandard
	}
}

func (c Category) ScoreBearing() bool { return c == CategoryScore }

type Target struct {
	ID       int64    `json:"id"`
	TenantID int64    `json:"tenant_id"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Probe    Spec     `json:"-"`

	// ConfigErr holds the parse error of the raw probe config, if any.
	// The probe still runs with an empty keyword.
	ConfigErr error `json:"-"`

	Monitoring bool `json:"monitoring"`

	LastCheck           *time.Time `json:"last_check"`
	LastResponseTime    *int64     `json:"last_response_time_ms"`
	Status              Status     `json:"status"`
	LastError           string     `json:"last_error"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureAt       *time.Time `json:"last_failure_at"`

	LastScore                  *float64   `json:"last_score"`
	LastScoreUpdate            *time.Time `json:"last_score_update"`
	ConsecutiveNoScoreIncrease int        `json:"consecutive_no_score_increase"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

package overview

import (
	"context"
	"time"
)

// Totals is the aggregate read projection served on the status surface.
type Totals struct {
	Targets        int `json:"total_targets"`
	Tenants        int `json:"total_tenants"`
	Alerts         int `json:"total_alerts"`
	HealthyTargets int `json:"healthy_targets"`
}

type Repo interface {
	// Totals counts healthy targets as those checked healthy at or after healthySince.
	Totals(ctx context.Context, healthySince time.Time) (Totals, error)
}

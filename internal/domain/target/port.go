package target

import "context"

type Repo interface {
	// ListMonitored returns only targets with monitoring enabled.
	ListMonitored(ctx context.Context) ([]*Target, error)
	GetByID(ctx context.Context, id int64) (*Target, error)
	ListByTenant(ctx context.Context, tenantID int64) ([]*Target, error)
	// Update persists the mutable check state of the target.
	Update(ctx context.Context, t *Target) error
}

package alert

import (
	"context"
	"time"
)

type Repo interface {
	Create(ctx context.Context, a *Alert) error
	// FindOpen returns the unsent alert of the kind for the target, or nil.
	FindOpen(ctx context.Context, targetID int64, kind Kind) (*Alert, error)
	MarkSent(ctx context.Context, id int64) error
	// MarkOpenSent flags every unsent alert of the kind for the target.
	MarkOpenSent(ctx context.Context, targetID int64, kind Kind) (int64, error)
	CountByTargetSince(ctx context.Context, targetID int64, since time.Time) (int, error)
}

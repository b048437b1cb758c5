package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Zepatrol/internal/domain/overview"
)

var _ overview.Repo = (*OverviewRepoImpl)(nil)

type OverviewRepoImpl struct{ db *DB }

func NewOverviewRepo(db *DB) *OverviewRepoImpl { return &OverviewRepoImpl{db: db} }

const qTotals = `
SELECT
    (SELECT count(*) FROM targets),
    (SELECT count(*) FROM tenants),
    (SELECT count(*) FROM alerts),
    (SELECT count(*) FROM targets WHERE status = 'healthy' AND last_check >= $1);`

func (r *OverviewRepoImpl) Totals(ctx context.Context, healthySince time.Time) (overview.Totals, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var t overview.Totals
	if err := r.db.Pool.QueryRow(ctx, qTotals, healthySince).
		Scan(&t.Targets, &t.Tenants, &t.Alerts, &t.HealthyTargets); err != nil {
		return overview.Totals{}, fmt.Errorf("totals: %w", err)
	}
	return t, nil
}

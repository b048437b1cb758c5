package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
)

var _ alert.Repo = (*AlertRepoImpl)(nil)

type AlertRepoImpl struct{ db *DB }

func NewAlertRepo(db *DB) *AlertRepoImpl { return &AlertRepoImpl{db: db} }

const constraintOpenAlert = "alerts_open_uniq"

const (
	qAlertInsert = `
INSERT INTO alerts (tenant_id, target_id, kind, severity, message, sent, created_at)
VALUES ($1, $2, $3, $4, $5, FALSE, COALESCE($6, now()))
RETURNING id, created_at;`

	qAlertFindOpen = `
SELECT id, tenant_id, target_id, kind, severity, message, sent, created_at
FROM alerts
WHERE target_id = $1 AND kind = $2 AND NOT sent
ORDER BY created_at DESC
LIMIT 1;`

	qAlertMarkSent = `UPDATE alerts SET sent = TRUE WHERE id = $1;`

	qAlertMarkOpenSent = `
UPDATE alerts SET sent = TRUE
WHERE target_id = $1 AND kind = $2 AND NOT sent;`

	qAlertCountSince = `
SELECT count(*)
FROM alerts
WHERE target_id = $1 AND created_at >= $2;`
)

// Create inserts an unsent alert. A concurrent open alert of the same kind
// surfaces as alert.ErrOpenExists through the partial unique index.
func (r *AlertRepoImpl) Create(ctx context.Context, a *alert.Alert) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).QueryRow(ctx, qAlertInsert,
		a.TenantID,
		a.TargetID,
		string(a.Kind),
		string(a.Severity),
		a.Message,
		nullTime(a.CreatedAt),
	).Scan(&a.ID, &a.CreatedAt)
	if uniqueViolation(err, constraintOpenAlert) {
		return alert.ErrOpenExists
	}
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	a.Sent = false
	return nil
}

func (r *AlertRepoImpl) FindOpen(ctx context.Context, targetID int64, kind alert.Kind) (*alert.Alert, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		a           alert.Alert
		kindS, sevS string
	)
	err := r.db.execQueryer(ctx).QueryRow(ctx, qAlertFindOpen, targetID, string(kind)).
		Scan(&a.ID, &a.TenantID, &a.TargetID, &kindS, &sevS, &a.Message, &a.Sent, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open alert: %w", err)
	}
	a.Kind = alert.Kind(kindS)
	a.Severity = alert.Severity(sevS)
	return &a, nil
}

func (r *AlertRepoImpl) MarkSent(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qAlertMarkSent, id)
	if err != nil {
		return fmt.Errorf("mark alert sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AlertRepoImpl) MarkOpenSent(ctx context.Context, targetID int64, kind alert.Kind) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qAlertMarkOpenSent, targetID, string(kind))
	if err != nil {
		return 0, fmt.Errorf("mark open alerts sent: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *AlertRepoImpl) CountByTargetSince(ctx context.Context, targetID int64, since time.Time) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var n int
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qAlertCountSince, targetID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}

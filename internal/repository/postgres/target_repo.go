package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Zepatrol/internal/domain/target"
)

var _ target.Repo = (*TargetRepoImpl)(nil)

type TargetRepoImpl struct {
	db *DB
}

func NewTargetRepo(db *DB) *TargetRepoImpl { return &TargetRepoImpl{db: db} }

const targetColumns = `
id, tenant_id, name, category, validation_method, validation_url, probe_config, monitoring,
last_check, last_response_time_ms, status, last_error, consecutive_failures, last_failure_at,
last_score, last_score_update, consecutive_no_score_increase, created_at, updated_at`

const (
	qTargetByID = `SELECT` + targetColumns + `
FROM targets
WHERE id = $1;`

	qTargetsMonitored = `SELECT` + targetColumns + `
FROM targets
WHERE monitoring = TRUE
ORDER BY id;`

	qTargetsByTenant = `SELECT` + targetColumns + `
FROM targets
WHERE tenant_id = $1
ORDER BY id;`

	qTargetUpdate = `
UPDATE targets
SET last_check = $2,
    last_response_time_ms = $3,
    status = $4,
    last_error = $5,
    consecutive_failures = $6,
    last_failure_at = $7,
    last_score = $8,
    last_score_update = $9,
    consecutive_no_score_increase = $10,
    updated_at = now()
WHERE id = $1
RETURNING updated_at;`
)

func scanTarget(row pgx.Row, t *target.Target) error {
	var (
		category   string
		method     string
		url        string
		rawConfig  *string
		status     string
		failures   int32
		noIncrease int32
	)
	if err := row.Scan(
		&t.ID,
		&t.TenantID,
		&t.Name,
		&category,
		&method,
		&url,
		&rawConfig,
		&t.Monitoring,
		&t.LastCheck,
		&t.LastResponseTime,
		&status,
		&t.LastError,
		&failures,
		&t.LastFailureAt,
		&t.LastScore,
		&t.LastScoreUpdate,
		&noIncrease,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan target: %w", err)
	}
	t.Category = target.ParseCategory(category)
	t.Status = target.Status(status)
	t.ConsecutiveFailures = int(failures)
	t.ConsecutiveNoScoreIncrease = int(noIncrease)
	t.Probe, t.ConfigErr = target.ResolveSpec(method, url, []byte(nullString(rawConfig)))
	return nil
}

func (r *TargetRepoImpl) GetByID(ctx context.Context, id int64) (*target.Target, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var t target.Target
	if err := scanTarget(r.db.execQueryer(ctx).QueryRow(ctx, qTargetByID, id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TargetRepoImpl) ListMonitored(ctx context.Context) ([]*target.Target, error) {
	return r.list(ctx, qTargetsMonitored)
}

func (r *TargetRepoImpl) ListByTenant(ctx context.Context, tenantID int64) ([]*target.Target, error) {
	return r.list(ctx, qTargetsByTenant, tenantID)
}

func (r *TargetRepoImpl) list(ctx context.Context, q string, args ...any) ([]*target.Target, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var out []*target.Target
	for rows.Next() {
		var t target.Target
		if err := scanTarget(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *TargetRepoImpl) Update(ctx context.Context, t *target.Target) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).QueryRow(ctx, qTargetUpdate,
		t.ID,
		t.LastCheck,
		t.LastResponseTime,
		string(t.Status),
		t.LastError,
		t.ConsecutiveFailures,
		t.LastFailureAt,
		t.LastScore,
		t.LastScoreUpdate,
		t.ConsecutiveNoScoreIncrease,
	).Scan(&t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	return nil
}

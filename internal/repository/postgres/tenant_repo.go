package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
)

var _ tenant.Repo = (*TenantRepoImpl)(nil)

type TenantRepoImpl struct{ db *DB }

func NewTenantRepo(db *DB) *TenantRepoImpl { return &TenantRepoImpl{db: db} }

const (
	qTenantByID = `
SELECT id, name, email, notification_email, tier, telegram_chat_id, created_at
FROM tenants
WHERE id = $1;`

	qTenantList = `
SELECT id, name, email, notification_email, tier, telegram_chat_id, created_at
FROM tenants
ORDER BY id;`
)

func scanTenant(row pgx.Row, t *tenant.Tenant) error {
	var tier string
	if err := row.Scan(&t.ID, &t.Name, &t.Email, &t.NotificationEmail, &tier, &t.TelegramChatID, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan tenant: %w", err)
	}
	t.Tier = tenant.ParseTier(tier)
	return nil
}

func (r *TenantRepoImpl) GetByID(ctx context.Context, id int64) (*tenant.Tenant, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var t tenant.Tenant
	if err := scanTenant(r.db.execQueryer(ctx).QueryRow(ctx, qTenantByID, id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TenantRepoImpl) List(ctx context.Context) ([]*tenant.Tenant, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qTenantList)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var out []*tenant.Tenant
	for rows.Next() {
		var t tenant.Tenant
		if err := scanTenant(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

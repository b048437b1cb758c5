package memory

import (
	"context"
	"sort"
	"time"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
	"github.com/NordCoder/Zepatrol/internal/domain/notification"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
)

var (
	_ target.Repo       = (*TargetRepo)(nil)
	_ tenant.Repo       = (*TenantRepo)(nil)
	_ alert.Repo        = (*AlertRepo)(nil)
	_ notification.Repo = (*NotificationRepo)(nil)
)

type TargetRepo struct{ s *Store }

func (r *TargetRepo) ListMonitored(context.Context) ([]*target.Target, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return sortedTargets(r.s.targets, func(t *target.Target) bool { return t.Monitoring }), nil
}

func (r *TargetRepo) ListByTenant(_ context.Context, tenantID int64) ([]*target.Target, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return sortedTargets(r.s.targets, func(t *target.Target) bool { return t.TenantID == tenantID }), nil
}

func (r *TargetRepo) GetByID(_ context.Context, id int64) (*target.Target, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.targets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneTarget(t)
	return &cp, nil
}

func (r *TargetRepo) Update(_ context.Context, t *target.Target) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.targets[t.ID]; !ok {
		return ErrNotFound
	}
	t.UpdatedAt = time.Now().UTC()
	r.s.targets[t.ID] = cloneTarget(*t)
	return nil
}

type TenantRepo struct{ s *Store }

func (r *TenantRepo) GetByID(_ context.Context, id int64) (*tenant.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (r *TenantRepo) List(context.Context) ([]*tenant.Tenant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*tenant.Tenant, 0, len(r.s.tenants))
	for _, t := range r.s.tenants {
		cp := t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type AlertRepo struct{ s *Store }

func (r *AlertRepo) Create(_ context.Context, a *alert.Alert) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.alerts {
		if x.TargetID == a.TargetID && x.Kind == a.Kind && !x.Sent {
			return alert.ErrOpenExists
		}
	}
	r.s.nextAlert++
	a.ID = r.s.nextAlert
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	r.s.alerts = append(r.s.alerts, *a)
	return nil
}

func (r *AlertRepo) FindOpen(_ context.Context, targetID int64, kind alert.Kind) (*alert.Alert, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, x := range r.s.alerts {
		if x.TargetID == targetID && x.Kind == kind && !x.Sent {
			cp := x
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *AlertRepo) MarkSent(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.alerts {
		if r.s.alerts[i].ID == id {
			r.s.alerts[i].Sent = true
			return nil
		}
	}
	return ErrNotFound
}

func (r *AlertRepo) MarkOpenSent(_ context.Context, targetID int64, kind alert.Kind) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i := range r.s.alerts {
		a := &r.s.alerts[i]
		if a.TargetID == targetID && a.Kind == kind && !a.Sent {
			a.Sent = true
			n++
		}
	}
	return n, nil
}

func (r *AlertRepo) CountByTargetSince(_ context.Context, targetID int64, since time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, a := range r.s.alerts {
		if a.TargetID == targetID && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type NotificationRepo struct{ s *Store }

func (r *NotificationRepo) Create(_ context.Context, n *notification.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextNotification++
	n.ID = r.s.nextNotification
	r.s.notifications = append(r.s.notifications, *n)
	return nil
}

// ListByTenant returns the newest records first.
func (r *NotificationRepo) ListByTenant(_ context.Context, tenantID int64, limit int) ([]*notification.Notification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*notification.Notification
	for i := len(r.s.notifications) - 1; i >= 0; i-- {
		n := r.s.notifications[i]
		if n.TenantID != tenantID {
			continue
		}
		out = append(out, &n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

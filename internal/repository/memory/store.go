package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
	"github.com/NordCoder/Zepatrol/internal/domain/notification"
	"github.com/NordCoder/Zepatrol/internal/domain/overview"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
)

var ErrNotFound = errors.New("not found")

// Store keeps every record in process memory. Reads and writes go through
// copies so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	tenants       map[int64]tenant.Tenant
	targets       map[int64]target.Target
	alerts        []alert.Alert
	notifications []notification.Notification

	nextTenant, nextTarget, nextAlert, nextNotification int64
}

func New() *Store {
	return &Store{
		tenants: make(map[int64]tenant.Tenant),
		targets: make(map[int64]target.Target),
	}
}

func (s *Store) Targets() *TargetRepo             { return &TargetRepo{s: s} }
func (s *Store) Tenants() *TenantRepo             { return &TenantRepo{s: s} }
func (s *Store) Alerts() *AlertRepo               { return &AlertRepo{s: s} }
func (s *Store) Notifications() *NotificationRepo { return &NotificationRepo{s: s} }

// WithTx runs fn directly; the store has no rollback.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// PutTenant inserts or replaces a tenant, assigning an id when zero.
func (s *Store) PutTenant(t *tenant.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		s.nextTenant++
		t.ID = s.nextTenant
	} else if t.ID > s.nextTenant {
		s.nextTenant = t.ID
	}
	s.tenants[t.ID] = *t
}

// PutTarget inserts or replaces a target, assigning an id when zero.
func (s *Store) PutTarget(t *target.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		s.nextTarget++
		t.ID = s.nextTarget
	} else if t.ID > s.nextTarget {
		s.nextTarget = t.ID
	}
	s.targets[t.ID] = cloneTarget(*t)
}

// AlertsFor returns copies of every alert recorded for the target, oldest first.
func (s *Store) AlertsFor(targetID int64) []*alert.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alert.Alert
	for _, a := range s.alerts {
		if a.TargetID == targetID {
			cp := a
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) Totals(_ context.Context, healthySince time.Time) (overview.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := overview.Totals{
		Targets: len(s.targets),
		Tenants: len(s.tenants),
		Alerts:  len(s.alerts),
	}
	for _, t := range s.targets {
		if t.Status == target.StatusHealthy && t.LastCheck != nil && !t.LastCheck.Before(healthySince) {
			out.HealthyTargets++
		}
	}
	return out, nil
}

var _ overview.Repo = (*Store)(nil)

func cloneTarget(t target.Target) target.Target {
	t.LastCheck = cloneTime(t.LastCheck)
	t.LastFailureAt = cloneTime(t.LastFailureAt)
	t.LastScoreUpdate = cloneTime(t.LastScoreUpdate)
	if t.LastResponseTime != nil {
		v := *t.LastResponseTime
		t.LastResponseTime = &v
	}
	if t.LastScore != nil {
		v := *t.LastScore
		t.LastScore = &v
	}
	return t
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func sortedTargets(m map[int64]target.Target, keep func(*target.Target) bool) []*target.Target {
	out := make([]*target.Target, 0, len(m))
	for _, t := range m {
		if !keep(&t) {
			continue
		}
		cp := cloneTarget(t)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

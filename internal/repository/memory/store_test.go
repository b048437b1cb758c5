package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
	"github.com/NordCoder/Zepatrol/internal/domain/notification"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
)

func TestTargets_ListMonitoredAndCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutTarget(&target.Target{Name: "a", Monitoring: true})
	s.PutTarget(&target.Target{Name: "b", Monitoring: false})
	s.PutTarget(&target.Target{Name: "c", Monitoring: true})

	list, err := s.Targets().ListMonitored(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "c", list[1].Name)

	list[0].ConsecutiveFailures = 7
	got, err := s.Targets().GetByID(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Zero(t, got.ConsecutiveFailures)

	require.NoError(t, s.Targets().Update(ctx, list[0]))
	got, err = s.Targets().GetByID(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.ConsecutiveFailures)

	require.ErrorIs(t, s.Targets().Update(ctx, &target.Target{ID: 99}), ErrNotFound)
}

func TestAlerts_OpenUniqueness(t *testing.T) {
	ctx := context.Background()
	r := New().Alerts()

	a1 := &alert.Alert{TargetID: 1, Kind: alert.KindDowntime}
	require.NoError(t, r.Create(ctx, a1))
	require.ErrorIs(t, r.Create(ctx, &alert.Alert{TargetID: 1, Kind: alert.KindDowntime}), alert.ErrOpenExists)
	require.NoError(t, r.Create(ctx, &alert.Alert{TargetID: 1, Kind: alert.KindScoreStagnation}))

	open, err := r.FindOpen(ctx, 1, alert.KindDowntime)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, a1.ID, open.ID)

	n, err := r.MarkOpenSent(ctx, 1, alert.KindDowntime)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	open, err = r.FindOpen(ctx, 1, alert.KindDowntime)
	require.NoError(t, err)
	assert.Nil(t, open)

	require.NoError(t, r.Create(ctx, &alert.Alert{TargetID: 1, Kind: alert.KindDowntime}))
	cnt, err := r.CountByTargetSince(ctx, 1, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, cnt)
}

func TestTotals(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-2 * time.Hour)

	s := New()
	s.PutTenant(&tenant.Tenant{Name: "t"})
	s.PutTarget(&target.Target{Status: target.StatusHealthy, LastCheck: &recent})
	s.PutTarget(&target.Target{Status: target.StatusHealthy, LastCheck: &old})
	s.PutTarget(&target.Target{Status: target.StatusUnhealthy, LastCheck: &recent})
	require.NoError(t, s.Alerts().Create(context.Background(), &alert.Alert{TargetID: 3, Kind: alert.KindDowntime}))

	got, err := s.Totals(context.Background(), now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, got.Targets)
	assert.Equal(t, 1, got.Tenants)
	assert.Equal(t, 1, got.Alerts)
	assert.Equal(t, 1, got.HealthyTargets)
}

func TestNotifications_NewestFirst(t *testing.T) {
	ctx := context.Background()
	r := New().Notifications()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Create(ctx, &notification.Notification{TenantID: 1, Channel: notification.ChannelEmail}))
	}
	require.NoError(t, r.Create(ctx, &notification.Notification{TenantID: 2}))

	got, err := r.ListByTenant(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 3, got[0].ID)
	assert.EqualValues(t, 2, got[1].ID)
}

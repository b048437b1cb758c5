package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/NordCoder/Zepatrol/internal/domain/alert"
	"github.com/NordCoder/Zepatrol/internal/domain/notification"
	"github.com/NordCoder/Zepatrol/internal/domain/outbox"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
	"github.com/NordCoder/Zepatrol/internal/repository/memory"
	"github.com/NordCoder/Zepatrol/internal/services/probe"
)

type fakeNotifier struct {
	mu      sync.Mutex
	primary notification.DeliveryStatus
	calls   []*alert.Alert
}

func (f *fakeNotifier) Notify(_ context.Context, _ *tenant.Tenant, _ *target.Target, a *alert.Alert) notification.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, a)
	return notification.Delivery{Primary: f.primary, Secondary: notification.DeliverySkipped}
}

type fakeOutbox struct {
	keys []string
	err  error
}

func (f *fakeOutbox) Enqueue(_ context.Context, key string, _ outbox.Kind, _ []byte) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeOutbox) PickBatch(context.Context, int, time.Duration) ([]outbox.Message, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkSuccess(context.Context, []string) error { return nil }

type fixture struct {
	store *memory.Store
	n     *fakeNotifier
	m     *Machine
	tn    *tenant.Tenant
	now   time.Time
}

func newFixture(t *testing.T, cfg Config, primary notification.DeliveryStatus) *fixture {
	t.Helper()
	store := memory.New()
	n := &fakeNotifier{primary: primary}
	m := New(cfg, Deps{
		Alerts:   store.Alerts(),
		Notifier: n,
		Tx:       store,
		Log:      zaptest.NewLogger(t),
		Reg:      prometheus.NewRegistry(),
	})
	tn := &tenant.Tenant{Name: "acme", Email: "ops@acme.io", Tier: tenant.TierFree}
	store.PutTenant(tn)
	return &fixture{store: store, n: n, m: m, tn: tn, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fixture) target(cat target.Category) *target.Target {
	tgt := &target.Target{TenantID: f.tn.ID, Name: "validator-1", Category: cat, Monitoring: true, Status: target.StatusUnknown}
	f.store.PutTarget(tgt)
	return tgt
}

func (f *fixture) apply(tgt *target.Target, out probe.Outcome) Result {
	f.now = f.now.Add(time.Hour)
	return f.m.Apply(context.Background(), tgt, f.tn, out, f.now)
}

func openAlerts(alerts []*alert.Alert, kind alert.Kind) int {
	n := 0
	for _, a := range alerts {
		if a.Kind == kind && !a.Sent {
			n++
		}
	}
	return n
}

func TestDowntime_ThreeFailuresOneAlertThenDedupThenReset(t *testing.T) {
	f := newFixture(t, Config{}, notification.DeliverySkipped)
	tgt := f.target(target.CategoryStandard)
	fail := probe.Failed("connection refused")

	f.apply(tgt, fail)
	f.apply(tgt, fail)
	assert.Empty(t, f.store.AlertsFor(tgt.ID))

	res := f.apply(tgt, fail)
	require.NoError(t, res.Err)
	require.Len(t, res.Raised, 1)
	assert.Equal(t, 3, tgt.ConsecutiveFailures)
	assert.Equal(t, target.StatusUnhealthy, tgt.Status)

	res = f.apply(tgt, fail)
	assert.Empty(t, res.Raised)
	assert.Equal(t, []alert.Kind{alert.KindDowntime}, res.Deduped)
	assert.Equal(t, 4, tgt.ConsecutiveFailures)
	assert.Equal(t, 1, openAlerts(f.store.AlertsFor(tgt.ID), alert.KindDowntime))

	f.apply(tgt, probe.Outcome{OK: true})
	assert.Zero(t, tgt.ConsecutiveFailures)
	assert.Equal(t, target.StatusHealthy, tgt.Status)
	assert.Empty(t, tgt.LastError)
}

func TestDowntime_AlertContent(t *testing.T) {
	f := newFixture(t, Config{}, notification.DeliverySkipped)
	tgt := f.target(target.CategoryStandard)
	for i := 0; i < 3; i++ {
		f.apply(tgt, probe.Failed("connection refused"))
	}

	alerts := f.store.AlertsFor(tgt.ID)
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, alert.KindDowntime, a.Kind)
	assert.Equal(t, alert.SeverityHigh, a.Severity)
	assert.Equal(t, "Node validator-1 is down: connection refused", a.Message)
	assert.Equal(t, f.tn.ID, a.TenantID)
	assert.False(t, a.Sent)
	require.NotNil(t, tgt.LastFailureAt)
	assert.Equal(t, f.now, *tgt.LastFailureAt)
}

func TestDowntime_ResetOnRaise(t *testing.T) {
	f := newFixture(t, Config{ResetOnRaise: true}, notification.DeliverySent)
	tgt := f.target(target.CategoryStandard)
	for i := 0; i < 3; i++ {
		f.apply(tgt, probe.Failed("timeout"))
	}
	assert.Zero(t, tgt.ConsecutiveFailures)
	require.Len(t, f.store.AlertsFor(tgt.ID), 1)
}

func TestSentOnlyAfterPrimarySuccess(t *testing.T) {
	f := newFixture(t, Config{}, notification.DeliverySent)
	tgt := f.target(target.CategoryStandard)
	for i := 0; i < 3; i++ {
		f.apply(tgt, probe.Failed("timeout"))
	}
	alerts := f.store.AlertsFor(tgt.ID)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Sent)

	// a sent alert no longer blocks the next one
	res := f.apply(tgt, probe.Failed("timeout"))
	require.Len(t, res.Raised, 1)
	assert.Len(t, f.store.AlertsFor(tgt.ID), 2)
}

func TestPrimaryFailureLeavesAlertOpen(t *testing.T) {
	for _, st := range []notification.DeliveryStatus{notification.DeliveryFailed, notification.DeliverySkipped} {
		f := newFixture(t, Config{}, st)
		tgt := f.target(target.CategoryStandard)
		for i := 0; i < 6; i++ {
			f.apply(tgt, probe.Failed("timeout"))
		}
		alerts := f.store.AlertsFor(tgt.ID)
		require.Len(t, alerts, 1, st)
		assert.False(t, alerts[0].Sent, st)
		// one attempt per qualifying cycle, always for the same alert
		require.Len(t, f.n.calls, 4, st)
		for _, a := range f.n.calls {
			assert.Equal(t, alerts[0].ID, a.ID, st)
		}
	}
}

func TestUndeliveredAlertIsRetriedUntilSent(t *testing.T) {
	f := newFixture(t, Config{}, notification.DeliveryFailed)
	tgt := f.target(target.CategoryStandard)
	fail := probe.Failed("timeout")

	for i := 0; i < 3; i++ {
		f.apply(tgt, fail)
	}
	require.Len(t, f.n.calls, 1)
	assert.Equal(t, 1, openAlerts(f.store.AlertsFor(tgt.ID), alert.KindDowntime))

	f.n.primary = notification.DeliverySent
	res := f.apply(tgt, fail)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Raised)
	require.Len(t, res.Redelivered, 1)
	assert.True(t, res.Redelivered[0].Sent)
	assert.Len(t, f.n.calls, 2)

	alerts := f.store.AlertsFor(tgt.ID)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Sent)

	// a later outage gets its own alert
	f.apply(tgt, probe.Outcome{OK: true})
	for i := 0; i < 3; i++ {
		f.apply(tgt, fail)
	}
	alerts = f.store.AlertsFor(tgt.ID)
	require.Len(t, alerts, 2)
	assert.True(t, alerts[1].Sent)
	assert.Len(t, f.n.calls, 3)
}

func TestStagnation_RaisesOnceAndRearms(t *testing.T) {
	f := newFixture(t, Config{}, notification.DeliverySent)
	tgt := f.target(target.CategoryScore)
	ten := 10.0

	first := probe.Verdict(tgt.Category, probe.Outcome{OK: true, Score: &ten}, tgt.LastScore)
	f.apply(tgt, first)
	require.NotNil(t, tgt.LastScore)
	assert.Zero(t, tgt.ConsecutiveNoScoreIncrease)

	var last Result
	for i := 0; i < 3; i++ {
		out := probe.Verdict(tgt.Category, probe.Outcome{OK: true, Score: &ten}, tgt.LastScore)
		require.True(t, out.Stagnant)
		last = f.apply(tgt, out)
	}

	var stagnation []*alert.Alert
	for _, a := range f.store.AlertsFor(tgt.ID) {
		if a.Kind == alert.KindScoreStagnation {
			stagnation = append(stagnation, a)
		}
	}
	require.Len(t, stagnation, 1)
	assert.Equal(t, alert.SeverityMedium, stagnation[0].Severity)
	assert.Equal(t, "Node validator-1 score has not increased for 3 consecutive checks (last score 10)", stagnation[0].Message)
	assert.Zero(t, tgt.ConsecutiveNoScoreIncrease)
	assert.NotEmpty(t, last.Raised)
}

func TestStagnation_IncreaseNeverAlerts(t *testing.T) {
	f := newFixture(t, Config{}, notification.DeliverySkipped)
	tgt := f.target(target.CategoryScore)

	for _, s := range []float64{10, 12, 13, 20, 21} {
		score := s
		out := probe.Verdict(tgt.Category, probe.Outcome{OK: true, Score: &score}, tgt.LastScore)
		res := f.apply(tgt, out)
		assert.Empty(t, res.Raised)
		assert.Zero(t, tgt.ConsecutiveNoScoreIncrease)
	}
	assert.Equal(t, 21.0, *tgt.LastScore)
	assert.Empty(t, f.store.AlertsFor(tgt.ID))
}

func TestStagnation_OfflineCountsAndKeepsScore(t *testing.T) {
	f := newFixture(t, Config{StagnationThreshold: 2, FailureThreshold: 10}, notification.DeliverySent)
	tgt := f.target(target.CategoryScore)
	ten := 10.0

	f.apply(tgt, probe.Outcome{OK: true, Score: &ten})
	scoredAt := *tgt.LastScoreUpdate

	f.apply(tgt, probe.Outcome{Error: probe.ErrOffline, Offline: true})
	assert.Equal(t, 1, tgt.ConsecutiveNoScoreIncrease)
	assert.Equal(t, scoredAt, *tgt.LastScoreUpdate)
	assert.Equal(t, probe.ErrOffline, tgt.LastError)

	res := f.apply(tgt, probe.Outcome{Error: probe.ErrOffline, Offline: true})
	require.Len(t, res.Raised, 1)
	assert.Equal(t, alert.KindScoreStagnation, res.Raised[0].Kind)
	assert.Zero(t, tgt.ConsecutiveNoScoreIncrease)
}

func TestStagnation_OpenAlertBlocksAndKeepsCounting(t *testing.T) {
	f := newFixture(t, Config{StagnationThreshold: 1, FailureThreshold: 100}, notification.DeliverySkipped)
	tgt := f.target(target.CategoryScore)

	f.apply(tgt, probe.Failed("timeout"))
	require.Len(t, f.store.AlertsFor(tgt.ID), 1)
	assert.Equal(t, 1, tgt.ConsecutiveNoScoreIncrease)

	res := f.apply(tgt, probe.Failed("timeout"))
	assert.Empty(t, res.Raised)
	assert.Equal(t, []alert.Kind{alert.KindScoreStagnation}, res.Deduped)
	assert.Equal(t, 2, tgt.ConsecutiveNoScoreIncrease)
	assert.Len(t, f.store.AlertsFor(tgt.ID), 1)
	assert.Len(t, f.n.calls, 2)
}

func TestStagnation_CounterKeptUntilDelivered(t *testing.T) {
	f := newFixture(t, Config{FailureThreshold: 100}, notification.DeliveryFailed)
	tgt := f.target(target.CategoryScore)
	offline := probe.Outcome{Error: probe.ErrOffline, Offline: true}

	for i := 0; i < 3; i++ {
		f.apply(tgt, offline)
	}
	assert.Equal(t, 3, tgt.ConsecutiveNoScoreIncrease)
	assert.Equal(t, 1, openAlerts(f.store.AlertsFor(tgt.ID), alert.KindScoreStagnation))

	f.n.primary = notification.DeliverySent
	res := f.apply(tgt, offline)
	require.NoError(t, res.Err)
	require.Len(t, res.Redelivered, 1)
	assert.Equal(t, alert.KindScoreStagnation, res.Redelivered[0].Kind)
	assert.Zero(t, tgt.ConsecutiveNoScoreIncrease)
	assert.Zero(t, openAlerts(f.store.AlertsFor(tgt.ID), alert.KindScoreStagnation))
}

func TestStandardTargetHasNoStagnationTrack(t *testing.T) {
	f := newFixture(t, Config{StagnationThreshold: 1, FailureThreshold: 100}, notification.DeliverySkipped)
	tgt := f.target(target.CategoryStandard)
	f.apply(tgt, probe.Failed("timeout"))
	assert.Zero(t, tgt.ConsecutiveNoScoreIncrease)
	assert.Empty(t, f.store.AlertsFor(tgt.ID))
}

func TestOutboxEnqueuedWithAlert(t *testing.T) {
	store := memory.New()
	ob := &fakeOutbox{}
	m := New(Config{FailureThreshold: 1}, Deps{
		Alerts: store.Alerts(), Tx: store, Outbox: ob,
		Log: zaptest.NewLogger(t), Reg: prometheus.NewRegistry(),
	})
	tgt := &target.Target{Name: "n"}
	store.PutTarget(tgt)

	res := m.Apply(context.Background(), tgt, &tenant.Tenant{}, probe.Failed("x"), time.Now())
	require.NoError(t, res.Err)
	require.Len(t, res.Raised, 1)
	assert.Equal(t, []string{EventKey(res.Raised[0])}, ob.keys)
}

func TestOutboxFailureIsReported(t *testing.T) {
	store := memory.New()
	m := New(Config{FailureThreshold: 1}, Deps{
		Alerts: store.Alerts(), Outbox: &fakeOutbox{err: errors.New("db down")},
		Log: zaptest.NewLogger(t), Reg: prometheus.NewRegistry(),
	})
	tgt := &target.Target{Name: "n"}
	store.PutTarget(tgt)

	res := m.Apply(context.Background(), tgt, &tenant.Tenant{}, probe.Failed("x"), time.Now())
	require.Error(t, res.Err)
	assert.Empty(t, res.Raised)
	assert.Equal(t, 1, tgt.ConsecutiveFailures)
	assert.Equal(t, target.StatusUnhealthy, tgt.Status)
}

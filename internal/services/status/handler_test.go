package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/NordCoder/Zepatrol/internal/domain/clock"
	"github.com/NordCoder/Zepatrol/internal/domain/policy"
	"github.com/NordCoder/Zepatrol/internal/domain/target"
	"github.com/NordCoder/Zepatrol/internal/domain/tenant"
	"github.com/NordCoder/Zepatrol/internal/repository/memory"
)

func newServer(t *testing.T) (*httptest.Server, time.Time) {
	t.Helper()
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New()

	pro := &tenant.Tenant{Name: "pro", Tier: tenant.TierPremium}
	store.PutTenant(pro)
	recent := now.Add(-5 * time.Minute)
	stale := now.Add(-2 * time.Hour)
	store.PutTarget(&target.Target{TenantID: pro.ID, Name: "a", Category: target.CategoryStandard, Monitoring: true,
		Status: target.StatusHealthy, LastCheck: &recent, Probe: target.RPC{Endpoint: "https://a"}})
	store.PutTarget(&target.Target{TenantID: pro.ID, Name: "b", Category: target.CategoryScore, Monitoring: true,
		Status: target.StatusHealthy, LastCheck: &stale, Probe: target.API{BaseURL: "https://b/"}})
	store.PutTarget(&target.Target{TenantID: pro.ID, Name: "c", Monitoring: false})

	h := &Handler{
		Totals:  store,
		Targets: store.Targets(),
		Tenants: store.Tenants(),
		Policy:  policy.Default(),
		Clock:   clock.NewManual(now),
		Log:     zaptest.NewLogger(t),
	}
	r := chi.NewRouter()
	h.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, now
}

func TestStatus_Totals(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 3, body["total_targets"])
	assert.EqualValues(t, 1, body["total_tenants"])
	assert.EqualValues(t, 0, body["total_alerts"])
	assert.EqualValues(t, 1, body["healthy_targets"])
}

func TestStatus_TargetsNextCheck(t *testing.T) {
	srv, now := newServer(t)

	resp, err := http.Get(srv.URL + "/status/targets")
	require.NoError(t, err)
	defer resp.Body.Close()

	var views []targetView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 2)

	assert.Equal(t, "a", views[0].Name)
	assert.Equal(t, "jsonRpc", views[0].Method)
	assert.Equal(t, now.Add(10*time.Minute), views[0].NextCheck.UTC())
	assert.Equal(t, "15m0s", views[0].Interval)

	assert.Equal(t, "b", views[1].Name)
	assert.Equal(t, now, views[1].NextCheck.UTC())
	assert.Equal(t, "2h0m0s", views[1].Interval)
}

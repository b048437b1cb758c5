//go:build integration

package integration

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/types/known/structpb"

	config "github.com/NordCoder/Zepatrol/internal/config/worker"
	"github.com/NordCoder/Zepatrol/internal/domain/alert"
	"github.com/NordCoder/Zepatrol/internal/domain/clock"
	"github.com/NordCoder/Zepatrol/internal/domain/policy"
	"github.com/NordCoder/Zepatrol/internal/obs/retry"
	outboxrelay "github.com/NordCoder/Zepatrol/internal/outbox"
	kafkax "github.com/NordCoder/Zepatrol/internal/repository/kafka"
	pg "github.com/NordCoder/Zepatrol/internal/repository/postgres"
	"github.com/NordCoder/Zepatrol/internal/services/alerting"
	"github.com/NordCoder/Zepatrol/internal/services/notifier"
	"github.com/NordCoder/Zepatrol/internal/services/probe"
	"github.com/NordCoder/Zepatrol/internal/services/scheduler"
)

type harness struct {
	db    *pg.DB
	uc    *scheduler.Usecase
	clock *clock.Manual
}

func newHarness(t *testing.T, cfg Cfg, withOutbox bool) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()

	sqlDB := DBOpen(t, cfg.DBDSN)
	Migrate(t, sqlDB)
	require.NoError(t, sqlDB.Close())

	db, err := pg.New(context.Background(), pg.Config{URL: cfg.DBDSN, QueryTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	clk := clock.NewManual(time.Now().UTC())
	fan := notifier.NewFanOut(
		notifier.EmailChannel{Sender: notifier.NewMailer(config.SMTP{
			Host: cfg.SMTPHost, Port: cfg.SMTPPort, From: "noreply@zepatrol.test", Timeout: 5 * time.Second,
		}, log)},
		nil,
		notifier.Deps{Audit: pg.NewNotificationRepo(db), Clock: clk, Log: log, Reg: reg},
	)

	deps := alerting.Deps{Alerts: pg.NewAlertRepo(db), Notifier: fan, Log: log, Reg: reg}
	if withOutbox {
		deps.Tx = pg.NewTransactor(db, log)
		deps.Outbox = pg.NewOutboxRepo(db)
	}

	uc := &scheduler.Usecase{
		Targets: pg.NewTargetRepo(db),
		Tenants: pg.NewTenantRepo(db),
		Policy:  policy.Default(),
		Prober: probe.NewDefault(config.Probe{UserAgent: "zepatrol-it", VerifyTLS: true, PingDeadline: time.Second},
			2*time.Second),
		Machine: alerting.New(alerting.Config{FailureThreshold: 3, StagnationThreshold: 3}, deps),
		Clock:   clk,
		Workers: 1,
		Log:     log,
	}
	return &harness{db: db, uc: uc, clock: clk}
}

// tick runs one cycle far enough in the future that every target is due.
func (h *harness) tick(t *testing.T) scheduler.Stats {
	t.Helper()
	h.clock.Advance(48 * time.Hour)
	st, err := h.uc.Tick(context.Background())
	require.NoError(t, err)
	return st
}

func TestWorker_DowntimeAlertIsMailedAndMarkedSent(t *testing.T) {
	cfg := LoadCfg()
	WaitTCP(t, "smtp", net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)), 30*time.Second)
	MailhogPurge(t, cfg.MailhogAPI)

	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer node.Close()

	h := newHarness(t, cfg, false)
	sqlDB := DBOpen(t, cfg.DBDSN)
	defer sqlDB.Close()

	sfx := RandSuffix()
	tenantID := SeedTenant(t, sqlDB, "it-"+sfx, "ops-"+sfx+"@example.com", "free")
	targetID := SeedTarget(t, sqlDB, tenantID, "node-"+sfx, "standard", "http", node.URL, "")

	for i := 0; i < 2; i++ {
		h.tick(t)
	}
	assert.Empty(t, AlertsFor(t, sqlDB, targetID))

	h.tick(t)
	rows := AlertsFor(t, sqlDB, targetID)
	require.Len(t, rows, 1)
	assert.Equal(t, string(alert.KindDowntime), rows[0].Kind)
	assert.True(t, rows[0].Sent)
	assert.Contains(t, rows[0].Msg, "Node node-"+sfx+" is down: HTTP 502")

	rep := WaitMailhogCount(t, cfg.MailhogAPI, 1, 20*time.Second)
	require.NotEmpty(t, rep.Items)
	assert.Contains(t, rep.Items[0].Content.Body, "node-"+sfx)

	tgt, err := pg.NewTargetRepo(h.db).GetByID(context.Background(), targetID)
	require.NoError(t, err)
	assert.Equal(t, 3, tgt.ConsecutiveFailures)
	assert.Equal(t, "unhealthy", string(tgt.Status))
}

func TestAlertRepo_OpenAlertIsUnique(t *testing.T) {
	cfg := LoadCfg()
	h := newHarness(t, cfg, false)
	sqlDB := DBOpen(t, cfg.DBDSN)
	defer sqlDB.Close()

	sfx := RandSuffix()
	tenantID := SeedTenant(t, sqlDB, "it-"+sfx, "", "free")
	targetID := SeedTarget(t, sqlDB, tenantID, "node-"+sfx, "standard", "ping", "127.0.0.1", "")

	repo := pg.NewAlertRepo(h.db)
	ctx := context.Background()
	first := &alert.Alert{TenantID: tenantID, TargetID: targetID, Kind: alert.KindDowntime, Severity: alert.SeverityHigh, Message: "a"}
	require.NoError(t, repo.Create(ctx, first))

	dup := &alert.Alert{TenantID: tenantID, TargetID: targetID, Kind: alert.KindDowntime, Severity: alert.SeverityHigh, Message: "b"}
	require.True(t, errors.Is(repo.Create(ctx, dup), alert.ErrOpenExists))

	n, err := repo.MarkOpenSent(ctx, targetID, alert.KindDowntime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, repo.Create(ctx, dup))

	count, err := repo.CountByTargetSince(ctx, targetID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestOutbox_AlertEventReachesKafka(t *testing.T) {
	cfg := LoadCfg()
	EnsureTopic(t, cfg.KafkaBootstrap, cfg.AlertTopic)

	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer node.Close()

	h := newHarness(t, cfg, true)
	sqlDB := DBOpen(t, cfg.DBDSN)
	defer sqlDB.Close()

	sfx := RandSuffix()
	tenantID := SeedTenant(t, sqlDB, "it-"+sfx, "", "free")
	targetID := SeedTarget(t, sqlDB, tenantID, "node-"+sfx, "standard", "http", node.URL, "")
	for i := 0; i < 3; i++ {
		h.tick(t)
	}
	rows := AlertsFor(t, sqlDB, targetID)
	require.Len(t, rows, 1)
	// no contact address, so the alert stays open
	assert.False(t, rows[0].Sent)

	key := alerting.EventKey(&alert.Alert{ID: rows[0].ID})
	status, ok := OutboxStatus(t, sqlDB, key)
	require.True(t, ok)
	assert.Equal(t, "CREATED", status)

	log := zaptest.NewLogger(t)
	producer := kafkax.NewProducer([]string{cfg.KafkaBootstrap}, cfg.AlertTopic).WithLogger(log)
	defer producer.Close()
	relay := outboxrelay.NewOutboxRunner(log, pg.NewOutboxRepo(h.db),
		outboxrelay.MakeGlobalOutboxHandler(kafkax.NewAlertEventsKafka(producer), retry.DefaultPublishPolicy(log)),
		outboxrelay.Config{BatchSize: 100}, prometheus.NewRegistry())
	relay.Tick(context.Background())

	status, _ = OutboxStatus(t, sqlDB, key)
	assert.Equal(t, "SUCCESS", status)

	got, ok := ReadOneProto(t, cfg.KafkaBootstrap, cfg.AlertTopic, "it-"+sfx, 20*time.Second, &structpb.Struct{})
	require.True(t, ok, "no alert event")
	assert.Equal(t, "alert.raised", got.AsMap()["type"])
}

package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	config "github.com/NordCoder/Zepatrol/internal/config/worker"
	"github.com/NordCoder/Zepatrol/internal/domain/clock"
	"github.com/NordCoder/Zepatrol/internal/obs/retry"
	outboxrelay "github.com/NordCoder/Zepatrol/internal/outbox"
	kafkax "github.com/NordCoder/Zepatrol/internal/repository/kafka"
	pg "github.com/NordCoder/Zepatrol/internal/repository/postgres"
	"github.com/NordCoder/Zepatrol/internal/services/alerting"
	"github.com/NordCoder/Zepatrol/internal/services/notifier"
	"github.com/NordCoder/Zepatrol/internal/services/probe"
	"github.com/NordCoder/Zepatrol/internal/services/scheduler"
	"github.com/NordCoder/Zepatrol/internal/services/status"
	"github.com/NordCoder/Zepatrol/internal/services/summary"
)

type app struct {
	runner *scheduler.Runner
	status *status.Handler
	relay  *outboxrelay.Runner
	closer []func() error
}

func (a *app) close() {
	for _, c := range a.closer {
		_ = c()
	}
}

func buildApp(cfg *config.Config, db *pg.DB, log *zap.Logger) *app {
	clk := clock.System{}
	reg := prometheus.DefaultRegisterer
	pol := cfg.Policy.AsPolicy()

	targets := pg.NewTargetRepo(db)
	tenants := pg.NewTenantRepo(db)
	alerts := pg.NewAlertRepo(db)
	notifications := pg.NewNotificationRepo(db)

	var secondary notifier.Channel
	if cfg.Telegram.Enabled() {
		secondary = notifier.ChatChannel{Sender: notifier.NewTelegram(cfg.Telegram, log)}
	} else {
		log.Info("telegram disabled, no bot token")
	}
	fan := notifier.NewFanOut(
		notifier.EmailChannel{Sender: notifier.NewMailer(cfg.SMTP, log)},
		secondary,
		notifier.Deps{Audit: notifications, Timeout: cfg.Alerting.NotifyTimeout, Clock: clk, Log: log, Reg: reg},
	)

	a := &app{}
	deps := alerting.Deps{Alerts: alerts, Notifier: fan, Log: log, Reg: reg}
	if cfg.Kafka.Enable {
		ob := pg.NewOutboxRepo(db)
		deps.Tx = pg.NewTransactor(db, log)
		deps.Outbox = ob

		producer := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(log)
		a.closer = append(a.closer, producer.Close)
		a.relay = outboxrelay.NewOutboxRunner(log, ob,
			outboxrelay.MakeGlobalOutboxHandler(kafkax.NewAlertEventsKafka(producer), retry.DefaultPublishPolicy(log)),
			outboxrelay.Config{
				Workers:       cfg.Outbox.Workers,
				BatchSize:     cfg.Outbox.BatchSize,
				Wait:          cfg.Outbox.Wait,
				InProgressTTL: cfg.Outbox.InProgressTTL,
			}, reg)
	}
	machine := alerting.New(alerting.Config{
		FailureThreshold:    cfg.Alerting.FailureThreshold,
		StagnationThreshold: cfg.Alerting.StagnationThreshold,
		ResetOnRaise:        cfg.Alerting.DowntimeMode == config.DowntimeResetOnRaise,
	}, deps)

	uc := &scheduler.Usecase{
		Targets: targets,
		Tenants: tenants,
		Policy:  pol,
		Prober:  probe.NewDefault(cfg.Probe, cfg.Scheduler.ProbeTimeout),
		Machine: machine,
		Clock:   clk,
		Workers: cfg.Scheduler.Workers,
		Log:     log,
	}
	daily := &summary.Service{
		Tenants: tenants,
		Targets: targets,
		Alerts:  alerts,
		Out:     fan,
		Clock:   clk,
		Log:     log,
	}
	a.runner = scheduler.New(log, uc, daily, cfg.Scheduler, grace(cfg), reg)
	a.status = &status.Handler{
		Totals:  pg.NewOverviewRepo(db),
		Targets: targets,
		Tenants: tenants,
		Policy:  pol,
		Clock:   clk,
		Log:     log,
	}
	return a
}

// grace covers one probe plus both notification sends.
func grace(cfg *config.Config) time.Duration {
	g := cfg.Scheduler.ProbeTimeout + cfg.Alerting.NotifyTimeout
	if cfg.Server.GracefulTimeout > g {
		g = cfg.Server.GracefulTimeout
	}
	return g
}

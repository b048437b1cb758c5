package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	config "github.com/NordCoder/Zepatrol/internal/config/worker"
	"github.com/NordCoder/Zepatrol/internal/obs"
	pg "github.com/NordCoder/Zepatrol/internal/repository/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	path := flag.String("config", os.Getenv("ZEPATROL_CONFIG"), "path to the yaml config")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*path)
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		return 1
	}

	logger, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting zepatrol", zap.String("env", cfg.App.Env), zap.String("ver", cfg.App.Version))

	otelShutdown, err := initOTel(rootCtx, cfg)
	if err != nil {
		logger.Error("otel init", zap.Error(err))
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = otelShutdown(ctx)
	}()

	db, err := pg.New(rootCtx, cfg.DB)
	if err != nil {
		logger.Error("database unavailable", zap.Error(err))
		return 1
	}
	defer db.Close()

	app := buildApp(cfg, db, logger)
	defer app.close()

	opsSrv := obs.BootstrapOpsServer(cfg.Server.HTTPAddr, db.Ping, logger, app.status.Mount)

	var health *obs.HealthServer
	if cfg.Server.GRPCAddr != "" {
		ln, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("grpc listen", zap.Error(err))
			return 1
		}
		health = obs.NewHealthServer(prometheus.DefaultRegisterer, logger)
		go func() {
			if err := health.Serve(ln); err != nil {
				logger.Error("grpc health serve", zap.Error(err))
			}
		}()
		go health.Watch(rootCtx, db.Ping, 5*time.Second)
	}

	done := make(chan struct{})
	if app.relay != nil {
		go func() {
			defer close(done)
			app.relay.Start(rootCtx)
		}()
	} else {
		close(done)
	}

	if err := app.runner.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler", zap.Error(err))
		return 1
	}
	logger.Info("shutdown signal", zap.String("reason", "context canceled"))

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := opsSrv.Shutdown(shCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("ops http shutdown", zap.Error(err))
	}
	if health != nil {
		health.Stop()
	}
	select {
	case <-done:
	case <-shCtx.Done():
		logger.Warn("outbox relay did not stop in time")
	}

	logger.Info("bye")
	return 0
}

func initOTel(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	oc := cfg.OTEL.AsOTELConfig()
	oc.Version = cfg.App.Version
	oc.Env = cfg.App.Env
	closer, err := obs.SetupOTel(ctx, oc)
	if err != nil {
		return nil, err
	}
	return closer.Shutdown, nil
}

package obs

import (
	"context"
	"net"
	"time"

	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthServer exposes the standard gRPC health service for orchestrators
// that probe over gRPC instead of HTTP.
type HealthServer struct {
	srv     *grpc.Server
	hs      *health.Server
	metrics *grpcprometheus.ServerMetrics
	log     *zap.Logger
}

func NewHealthServer(reg prometheus.Registerer, log *zap.Logger) *HealthServer {
	metrics := grpcprometheus.NewServerMetrics()
	if reg != nil {
		reg.MustRegister(metrics)
	}

	opts := GRPCServerOpts()
	opts = append(opts,
		grpc.ChainUnaryInterceptor(metrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(metrics.StreamServerInterceptor()),
	)
	srv := grpc.NewServer(opts...)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	metrics.InitializeMetrics(srv)

	return &HealthServer{srv: srv, hs: hs, metrics: metrics, log: log}
}

func (h *HealthServer) Serve(ln net.Listener) error {
	h.log.Info("grpc health listening", zap.String("addr", ln.Addr().String()))
	return h.srv.Serve(ln)
}

// Watch flips the serving status according to check until ctx is done.
func (h *HealthServer) Watch(ctx context.Context, check func(context.Context) error, every time.Duration) {
	h.probe(ctx, check)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.probe(ctx, check)
		}
	}
}

func (h *HealthServer) probe(ctx context.Context, check func(context.Context) error) {
	cctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := check(cctx); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		h.hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

func (h *HealthServer) Stop() {
	h.hs.Shutdown()
	h.srv.GracefulStop()
}

package server

import (
	"GasFutures/internal/observability"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Config holds listen addresses and API limits.
type Config struct {
	GRPCAddr     string
	HTTPAddr     string
	MetricsAddr  string
	RateLimitRPS float64
	RateBurst    int
}

// Server runs the gRPC health endpoint, the JSON API and the metrics
// endpoint.
type Server struct {
	cfg     Config
	grpc    *grpc.Server
	health  *health.Server
	handler http.Handler
	checker *observability.HealthChecker
	logger  zerolog.Logger
}

// New builds the servers. The gateway mux serves the API; /healthz and
// /readyz come from checker.
func New(cfg Config, deps Deps, checker *observability.HealthChecker) (*Server, error) {
	logger := deps.Logger.With().Str("component", "server").Logger()

	gw, err := NewGateway(deps)
	if err != nil {
		return nil, err
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", checker.LivenessHandler)
	httpMux.HandleFunc("/readyz", checker.ReadinessHandler)
	httpMux.Handle("/", RateLimit(gw, cfg.RateLimitRPS, cfg.RateBurst, deps.Metrics))

	return &Server{
		cfg:     cfg,
		grpc:    grpcServer,
		health:  healthServer,
		handler: httpMux,
		checker: checker,
		logger:  logger,
	}, nil
}

// Handler exposes the HTTP handler tree.
func (s *Server) Handler() http.Handler { return s.handler }

// SetServing flips the gRPC health status together with readiness.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.checker.SetReady(serving)
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.cfg.GRPCAddr).Msg("gRPC server listening")
	return s.grpc.Serve(lis)
}

// StartHTTP serves the JSON API until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	return s.serveHTTP(ctx, "http", s.cfg.HTTPAddr, s.handler)
}

// StartMetrics serves /metrics until ctx is cancelled.
func (s *Server) StartMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return s.serveHTTP(ctx, "metrics", s.cfg.MetricsAddr, mux)
}

func (s *Server) serveHTTP(ctx context.Context, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("server", name).Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("took", time.Since(start)).
			Msg("grpc call")
		return resp, err
	}
}

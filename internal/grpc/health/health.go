// Package health поднимает gRPC-сервер со стандартным сервисом
// grpc.health.v1. Статус обновляется периодическим опросом зависимостей,
// поэтому его можно использовать как liveness/readiness-пробу оркестратора.
package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/magabrotheeeer/quote-of-the-day/internal/lib/sl"
)

// Имена сервисов, о которых отвечает Check.
const (
	ServiceAPI   = "quoteoftheday.v1.API"
	ServiceCache = "quoteoftheday.v1.Cache"
)

const (
	defaultInterval = 10 * time.Second
	pingTimeout     = 2 * time.Second
)

// Pinger проверяет доступность зависимости.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server gRPC-сервер проверки состояния.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	db         Pinger
	cache      Pinger
	interval   time.Duration
	log        *slog.Logger
}

// New создает сервер. interval <= 0 означает опрос раз в 10 секунд.
func New(db, cache Pinger, interval time.Duration, log *slog.Logger) *Server {
	if interval <= 0 {
		interval = defaultInterval
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		grpcServer: gs,
		health:     hs,
		db:         db,
		cache:      cache,
		interval:   interval,
		log:        log,
	}
}

// Poll один раз опрашивает зависимости и обновляет статусы. Сервис API
// доступен, пока доступна база; недоступный кеш отмечается отдельно.
func (s *Server) Poll(ctx context.Context) {
	api := healthpb.HealthCheckResponse_SERVING
	if err := s.ping(ctx, s.db); err != nil {
		s.log.Warn("database is not reachable", sl.Err(err))
		api = healthpb.HealthCheckResponse_NOT_SERVING
	}
	cache := healthpb.HealthCheckResponse_SERVING
	if err := s.ping(ctx, s.cache); err != nil {
		s.log.Warn("cache is not reachable", sl.Err(err))
		cache = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.health.SetServingStatus("", api)
	s.health.SetServingStatus(ServiceAPI, api)
	s.health.SetServingStatus(ServiceCache, cache)
}

func (s *Server) ping(ctx context.Context, p Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return p.Ping(ctx)
}

// Serve обслуживает lis до отмены ctx.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Poll(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gRPC health server listening on", slog.String("address", lis.Addr().String()))
		errCh <- s.grpcServer.Serve(lis)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Poll(ctx)
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpcServer.GracefulStop()
			return nil
		case err := <-errCh:
			return err
		}
	}
}

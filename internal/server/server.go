// Package server exposes the exporter over HTTP (Prometheus scrape endpoint,
// health and a small JSON API) and gRPC (standard health service), both on a
// single listening port.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chrissnell/meterexporter/internal/health"
	"github.com/chrissnell/meterexporter/internal/meter"
	"github.com/chrissnell/meterexporter/internal/metrics"
	"github.com/chrissnell/meterexporter/internal/validate"
	"github.com/chrissnell/meterexporter/pkg/config"
	"github.com/chrissnell/meterexporter/pkg/responseformat"
	"github.com/gorilla/mux"
	"github.com/soheilhy/cmux"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServicePrefix namespaces component names in the gRPC health service.
const ServicePrefix = "meterexporter."

const shutdownTimeout = 5 * time.Second

// TickSource supplies the most recent polling tick.
type TickSource interface {
	Latest() *meter.Tick
}

// Server serves HTTP and gRPC on one port.
type Server struct {
	listenAddr string
	logger     *zap.SugaredLogger

	engine    *validate.Engine
	ticks     TickSource
	health    *health.Manager
	metrics   *metrics.Metrics
	channels  map[string]config.ChannelData
	formatter *responseformat.Formatter

	router     *mux.Router
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcHealth *grpchealth.Server

	mu       sync.Mutex
	listener net.Listener
}

// New builds the server. channels supplies the metric name and register
// address shown by the channel API.
func New(cfg config.ServerData, channels []config.ChannelData, engine *validate.Engine, ticks TickSource, h *health.Manager, m *metrics.Metrics, logger *zap.SugaredLogger) *Server {
	s := &Server{
		listenAddr: cfg.ListenAddr,
		logger:     logger,
		engine:     engine,
		ticks:      ticks,
		health:     h,
		metrics:    m,
		channels:   make(map[string]config.ChannelData, len(channels)),
		formatter:  responseformat.NewFormatter(),
	}
	for _, ch := range channels {
		s.channels[ch.Name] = ch
	}

	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.grpcServer = grpc.NewServer()
	s.grpcHealth = grpchealth.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.grpcHealth)
	reflection.Register(s.grpcServer)

	s.syncGRPCHealth()
	h.SetListener(func(component string, status health.Status) {
		s.syncGRPCHealth()
	})

	return s
}

// syncGRPCHealth mirrors the health manager into the gRPC health service.
func (s *Server) syncGRPCHealth() {
	for component, data := range s.health.All() {
		s.grpcHealth.SetServingStatus(ServicePrefix+component, servingStatus(data.Status))
	}
	s.grpcHealth.SetServingStatus("", servingStatus(s.health.Overall()))
}

func servingStatus(st health.Status) healthpb.HealthCheckResponse_ServingStatus {
	switch st {
	case health.StatusHealthy:
		return healthpb.HealthCheckResponse_SERVING
	case health.StatusUnhealthy:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, wg *sync.WaitGroup) error {
	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", s.listenAddr, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	m := cmux.New(l)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	s.logger.Infof("serving metrics at http://%s/metrics (gRPC health on the same port)", l.Addr())

	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := s.grpcServer.Serve(grpcL); err != nil && !isClosed(err) {
			s.logger.Errorf("gRPC server error: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.httpServer.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) && !isClosed(err) {
			s.logger.Errorf("HTTP server error: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := m.Serve(); err != nil && !isClosed(err) {
			s.logger.Errorf("listener error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		s.logger.Info("shutting down the HTTP/gRPC server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnf("HTTP shutdown: %v", err)
		}
		s.grpcHealth.Shutdown()
		s.grpcServer.Stop()
		l.Close()
	}()

	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed) || errors.Is(err, grpc.ErrServerStopped)
}

package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/coordpart/coordpart/pkg/config"
	"github.com/coordpart/coordpart/pkg/coordpart"
	"github.com/coordpart/coordpart/pkg/jobs"
	"github.com/coordpart/coordpart/pkg/observability"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// Server is the gRPC job-control plane: it accepts partition job
// submissions, runs them (currently via jobs.RunSimulated, standing in for
// dispatch to real rank processes over the fabric), and answers status and
// listing queries.
type Server struct {
	config     *config.Config
	metrics    *observability.Metrics
	manager    *jobs.Manager
	opts       coordpart.Options
	grpcServer *grpc.Server
	listener   net.Listener
	startTime  time.Time
	shutdownMu sync.Mutex
	isShutdown bool
	seedMu     sync.Mutex
	nextSeed   int64
}

// NewServer creates a new gRPC job-control server.
func NewServer(cfg *config.Config, metrics *observability.Metrics) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := coordpart.DefaultOptions()
	opts.NBits = cfg.Partition.NBits
	opts.RefineIterations = cfg.Partition.RefineIterations
	opts.BalanceTolerance = cfg.Partition.BalanceTolerance
	opts.MinSamples = cfg.Partition.MinSamples

	return &Server{
		config:    cfg,
		metrics:   metrics,
		manager:   jobs.NewManager(),
		opts:      opts,
		startTime: time.Now(),
	}, nil
}

// Start starts the gRPC server listening on the configured fabric address.
func (s *Server) Start() error {
	var opts []grpc.ServerOption

	if s.config.Fabric.EnableTLS {
		cert, err := tls.LoadX509KeyPair(s.config.Fabric.CertFile, s.config.Fabric.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificates: %w", err)
		}
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		creds := credentials.NewTLS(tlsConfig)
		opts = append(opts, grpc.Creds(creds))
		log.Println("TLS enabled")
	}

	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle: 15 * time.Second,
		MaxConnectionAge:  30 * time.Second,
		Time:              5 * time.Second,
		Timeout:           1 * time.Second,
	}
	opts = append(opts, grpc.KeepaliveParams(kaParams))

	if s.config.Fabric.MaxConnections > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(s.config.Fabric.MaxConnections)))
	}

	s.grpcServer = grpc.NewServer(opts...)
	RegisterJobControlServer(s.grpcServer, s)

	reflection.Register(s.grpcServer)

	addr := s.config.Fabric.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	log.Printf("coordpart job-control gRPC server listening on %s", addr)

	go func() {
		if err := s.grpcServer.Serve(listener); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server, forcing a stop if
// Fabric.ShutdownTimeout elapses first.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.isShutdown {
		return nil
	}

	log.Println("Shutting down job-control server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Fabric.ShutdownTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		log.Println("Server stopped gracefully")
	case <-ctx.Done():
		log.Println("Shutdown timeout exceeded, forcing stop")
		s.grpcServer.Stop()
	}

	s.isShutdown = true
	return nil
}

// Wait blocks forever once Start has opened a listener, whether or not the
// server is later stopped; before Start it returns at once.
func (s *Server) Wait() {
	if s.listener != nil {
		<-make(chan struct{})
	}
}

// Uptime returns server uptime.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Stats returns server statistics.
func (s *Server) Stats() map[string]interface{} {
	jobList := s.manager.List()
	byStatus := map[jobs.Status]int{}
	for _, j := range jobList {
		byStatus[j.Status()]++
	}

	return map[string]interface{}{
		"uptime_seconds": s.Uptime().Seconds(),
		"jobs_total":     len(jobList),
		"jobs_by_status": byStatus,
	}
}

// nextSeedValue returns a monotonically increasing seed for
// jobs.RunSimulated, so repeated submissions don't share coordinates.
func (s *Server) nextSeedValue() int64 {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	s.nextSeed++
	return s.nextSeed
}

package fabric

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
)

// Server hosts the fabric hub: rank 0's process runs one, and every rank
// (including rank 0 itself) dials into it as a Substrate client.
type Server struct {
	hub        *Hub
	grpcServer *grpc.Server
	listener   net.Listener
}

// NewServer creates a fabric server for a group of size ranks, listening on
// addr.
func NewServer(addr string, size int) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("fabric: failed to listen on %s: %w", addr, err)
	}

	hub := NewHub(size)
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&ServiceDesc, hub)

	return &Server{hub: hub, grpcServer: grpcServer, listener: listener}, nil
}

// Addr returns the server's bound address, useful when addr was ":0".
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks, accepting rank connections until Stop is called.
func (s *Server) Serve() error {
	return s.grpcServer.Serve(s.listener)
}

// Start runs Serve in a background goroutine.
func (s *Server) Start() {
	go s.Serve()
}

// Stop gracefully stops the server, forcing a stop after timeout.
func (s *Server) Stop(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

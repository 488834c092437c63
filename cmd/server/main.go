package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	grpcserver "github.com/coordpart/coordpart/pkg/api/grpc"
	"github.com/coordpart/coordpart/pkg/api/rest"
	"github.com/coordpart/coordpart/pkg/api/rest/middleware"
	"github.com/coordpart/coordpart/pkg/config"
	"github.com/coordpart/coordpart/pkg/observability"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version and exit")
		showHelp    = flag.Bool("help", false, "show help and exit")
		configFile  = flag.String("config", "", "path to configuration file (optional)")
		host        = flag.String("host", "", "fabric host (overrides config/env)")
		port        = flag.Int("port", 0, "fabric port (overrides config/env)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("coordpart server v%s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if *showHelp {
		showUsage()
		os.Exit(0)
	}

	printBanner()

	cfg := loadConfig(*configFile)

	if *host != "" {
		cfg.Fabric.Host = *host
	}
	if *port > 0 {
		cfg.Fabric.Port = *port
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Println("Initializing coordpart job-control server...")
	metrics := observability.NewMetrics()
	grpcServer, err := grpcserver.NewServer(cfg, metrics)
	if err != nil {
		log.Fatalf("Failed to create gRPC server: %v", err)
	}

	printStartupInfo(cfg)

	errChan := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Println("Starting gRPC job-control server...")
		if err := grpcServer.Start(); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	var restServer *rest.Server
	if cfg.REST.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Wait for the gRPC server to start listening.
			time.Sleep(500 * time.Millisecond)

			restConfig := rest.Config{
				Host:        cfg.REST.Host,
				Port:        cfg.REST.Port,
				GRPCAddress: cfg.Fabric.Address(),
				CORSEnabled: cfg.REST.CORSEnabled,
				CORSOrigins: cfg.REST.CORSOrigins,
				Auth: middleware.AuthConfig{
					Enabled:   cfg.REST.AuthEnabled,
					JWTSecret: cfg.REST.JWTSecret,
				},
				RateLimit: middleware.RateLimitConfig{
					Enabled:        cfg.Quota.RateLimitQPS > 0,
					RequestsPerSec: float64(cfg.Quota.RateLimitQPS),
					Burst:          cfg.Quota.RateLimitQPS * 2,
					PerIP:          true,
				},
			}

			var err error
			restServer, err = rest.NewServer(restConfig)
			if err != nil {
				errChan <- fmt.Errorf("failed to create REST server: %w", err)
				return
			}

			log.Println("Starting REST API gateway...")
			if err := restServer.Start(); err != nil {
				errChan <- fmt.Errorf("REST server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	log.Println("Servers are ready. Press Ctrl+C to stop.")
	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
	case err := <-errChan:
		log.Printf("Server error: %v", err)
	}

	log.Println("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Fabric.ShutdownTimeout)
	defer cancel()

	if restServer != nil {
		if err := restServer.Stop(ctx); err != nil {
			log.Printf("Error stopping REST server: %v", err)
		}
	}

	if err := grpcServer.Stop(); err != nil {
		log.Printf("Error stopping gRPC server: %v", err)
	}

	wg.Wait()

	log.Println("Servers stopped. Goodbye!")
}

func loadConfig(configFile string) *config.Config {
	// TODO: support loading from YAML/JSON config file
	if configFile != "" {
		log.Printf("Warning: config file support not yet implemented, using environment variables")
	}

	return config.LoadFromEnv()
}

func printBanner() {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║    ____                      _ _____            _         ║
║   / ___|___   ___  _ __ ___ | |  __ \ __ _ _ __| |_       ║
║  | |   / _ \ / _ \| '__/ _ \| | |__) / _` + "`" + ` | '__| __|      ║
║  | |__| (_) | (_) | | | (_) | |  ___/ (_| | |  | |_       ║
║   \____\___/ \___/|_|  \___/|_|_|    \__,_|_|   \__|      ║
║                                                           ║
║   Distributed Coordinate-Based Graph Partitioner          ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
	fmt.Printf("Version: %s (commit: %s)\n\n", version, commit)
}

func printStartupInfo(cfg *config.Config) {
	fmt.Println("\n╔════════════════════════════════════════════════════════╗")
	fmt.Println("║            Fabric (gRPC) Configuration                 ║")
	fmt.Println("╠════════════════════════════════════════════════════════╣")
	fmt.Printf("║ Address:          %-35s ║\n", cfg.Fabric.Address())
	fmt.Printf("║ TLS Enabled:      %-35v ║\n", cfg.Fabric.EnableTLS)
	fmt.Printf("║ Max Connections:  %-35d ║\n", cfg.Fabric.MaxConnections)
	fmt.Println("╠════════════════════════════════════════════════════════╣")
	fmt.Println("║            REST API Configuration                      ║")
	fmt.Println("╠════════════════════════════════════════════════════════╣")
	fmt.Printf("║ Enabled:          %-35v ║\n", cfg.REST.Enabled)
	if cfg.REST.Enabled {
		fmt.Printf("║ Address:          %-35s ║\n", cfg.REST.Address())
		fmt.Printf("║ Auth Enabled:     %-35v ║\n", cfg.REST.AuthEnabled)
		fmt.Printf("║ CORS Enabled:     %-35v ║\n", cfg.REST.CORSEnabled)
		fmt.Printf("║ API Docs:         %-35s ║\n", fmt.Sprintf("http://%s/docs", cfg.REST.Address()))
	}
	fmt.Println("╠════════════════════════════════════════════════════════╣")
	fmt.Println("║            Partition Configuration                     ║")
	fmt.Println("╠════════════════════════════════════════════════════════╣")
	fmt.Printf("║ NBits:            %-35d ║\n", cfg.Partition.NBits)
	fmt.Printf("║ RefineIterations: %-35d ║\n", cfg.Partition.RefineIterations)
	fmt.Printf("║ BalanceTolerance: %-35.2f ║\n", cfg.Partition.BalanceTolerance)
	fmt.Printf("║ MinSamples:       %-35d ║\n", cfg.Partition.MinSamples)
	fmt.Println("╠════════════════════════════════════════════════════════╣")
	fmt.Println("║            Quota Configuration                         ║")
	fmt.Println("╠════════════════════════════════════════════════════════╣")
	fmt.Printf("║ MaxVertices:      %-35d ║\n", cfg.Quota.MaxVertices)
	fmt.Printf("║ MaxRanks:         %-35d ║\n", cfg.Quota.MaxRanks)
	fmt.Printf("║ MaxDimensions:    %-35d ║\n", cfg.Quota.MaxDimensions)
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func showUsage() {
	fmt.Println("coordpart server - distributed coordinate-based graph partitioner")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  coordpart-server [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -help             Show this help message")
	fmt.Println("  -version          Show version information")
	fmt.Println("  -config PATH      Configuration file path (not read: a warning is printed")
	fmt.Println("                    and environment variables are used)")
	fmt.Println("  -host HOST        Fabric host (default: 0.0.0.0)")
	fmt.Println("  -port PORT        Fabric port (default: 9090)")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  COORDPART_RANK                  This process's rank")
	fmt.Println("  COORDPART_SIZE                  Total number of ranks")
	fmt.Println("  COORDPART_FABRIC_HOST           Fabric listen host")
	fmt.Println("  COORDPART_FABRIC_PORT           Fabric listen port")
	fmt.Println("  COORDPART_PEERS                 Comma-separated peer addr:port list")
	fmt.Println("  COORDPART_REQUEST_TIMEOUT       Per-RPC timeout (e.g., 30s)")
	fmt.Println("  COORDPART_ENABLE_TLS            Enable TLS (true/false)")
	fmt.Println("  COORDPART_TLS_CERT              TLS certificate file")
	fmt.Println("  COORDPART_TLS_KEY               TLS key file")
	fmt.Println("  COORDPART_NBITS                 Histogram bin bits per axis")
	fmt.Println("  COORDPART_REFINE_ITERATIONS     Bin-boundary refinement iterations")
	fmt.Println("  COORDPART_BALANCE_TOLERANCE     Acceptable load imbalance factor")
	fmt.Println("  COORDPART_MIN_SAMPLES           Minimum sample-sort splitter samples")
	fmt.Println("  COORDPART_REST_ENABLED          Enable the REST gateway (true/false)")
	fmt.Println("  COORDPART_REST_HOST             REST gateway host")
	fmt.Println("  COORDPART_REST_PORT             REST gateway port")
	fmt.Println("  COORDPART_JWT_SECRET            JWT signing secret (enables REST auth)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Start with default configuration")
	fmt.Println("  coordpart-server")
	fmt.Println()
	fmt.Println("  # Start on a custom fabric port")
	fmt.Println("  coordpart-server -port 9091")
	fmt.Println()
	fmt.Println("  # Start with environment variables")
	fmt.Println("  COORDPART_FABRIC_PORT=9091 COORDPART_NBITS=10 coordpart-server")
	fmt.Println()
}

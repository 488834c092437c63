// Package config loads and validates a rank process's configuration:
// its fabric server settings, its peer addresses, the partitioner
// options it runs with, the REST gateway it may expose, and the default
// job quota new submissions get.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all of a rank process's configuration.
type Config struct {
	Node      NodeConfig
	Fabric    FabricConfig
	Partition PartitionConfig
	REST      RESTConfig
	Quota     QuotaConfig
}

// NodeConfig identifies this process within the job.
type NodeConfig struct {
	Rank int // This process's rank.
	Size int // Total number of ranks in the job.
}

// FabricConfig holds the gRPC data-plane server configuration.
type FabricConfig struct {
	Host            string        // Listen host (default "0.0.0.0")
	Port            int           // Listen port (default 9090)
	Peers           []string      // addr:port of every rank, indexed by rank
	MaxConnections  int           // Max concurrent streams
	RequestTimeout  time.Duration // Per-RPC timeout
	ShutdownTimeout time.Duration // Graceful shutdown deadline
	EnableTLS       bool
	CertFile        string
	KeyFile         string
}

// PartitionConfig holds the tunable constants coordpart.Options exposes.
type PartitionConfig struct {
	NBits            int
	RefineIterations int
	BalanceTolerance float64
	MinSamples       int
}

// RESTConfig holds the optional HTTP control-plane gateway configuration.
type RESTConfig struct {
	Enabled     bool
	Host        string
	Port        int
	CORSEnabled bool
	CORSOrigins []string
	JWTSecret   string
	AuthEnabled bool
}

// QuotaConfig holds the default job quota applied to new submissions.
type QuotaConfig struct {
	MaxVertices   int64
	MaxRanks      int
	MaxDimensions int
	RateLimitQPS  int
}

// Default returns the out-of-the-box configuration for a single-rank
// local job.
func Default() *Config {
	return &Config{
		Node: NodeConfig{Rank: 0, Size: 1},
		Fabric: FabricConfig{
			Host:            "0.0.0.0",
			Port:            9090,
			MaxConnections:  256,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			EnableTLS:       false,
		},
		Partition: PartitionConfig{
			NBits:            9,
			RefineIterations: 5,
			BalanceTolerance: 4.0,
			MinSamples:       100,
		},
		REST: RESTConfig{
			Enabled:     true,
			Host:        "0.0.0.0",
			Port:        8080,
			CORSEnabled: true,
			CORSOrigins: []string{"*"},
			AuthEnabled: false,
		},
		Quota: QuotaConfig{
			MaxVertices:   100_000_000,
			MaxRanks:      256,
			MaxDimensions: 16,
			RateLimitQPS:  10,
		},
	}
}

// LoadFromEnv loads configuration from COORDPART_*-prefixed environment
// variables, starting from Default.
func LoadFromEnv() *Config {
	cfg := Default()

	if rank := os.Getenv("COORDPART_RANK"); rank != "" {
		if r, err := strconv.Atoi(rank); err == nil {
			cfg.Node.Rank = r
		}
	}
	if size := os.Getenv("COORDPART_SIZE"); size != "" {
		if s, err := strconv.Atoi(size); err == nil {
			cfg.Node.Size = s
		}
	}

	if host := os.Getenv("COORDPART_FABRIC_HOST"); host != "" {
		cfg.Fabric.Host = host
	}
	if port := os.Getenv("COORDPART_FABRIC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Fabric.Port = p
		}
	}
	if peers := os.Getenv("COORDPART_PEERS"); peers != "" {
		cfg.Fabric.Peers = strings.Split(peers, ",")
	}
	if timeout := os.Getenv("COORDPART_REQUEST_TIMEOUT"); timeout != "" {
		if t, err := time.ParseDuration(timeout); err == nil {
			cfg.Fabric.RequestTimeout = t
		}
	}
	if tls := os.Getenv("COORDPART_ENABLE_TLS"); tls == "true" {
		cfg.Fabric.EnableTLS = true
		cfg.Fabric.CertFile = os.Getenv("COORDPART_TLS_CERT")
		cfg.Fabric.KeyFile = os.Getenv("COORDPART_TLS_KEY")
	}

	if nbits := os.Getenv("COORDPART_NBITS"); nbits != "" {
		if n, err := strconv.Atoi(nbits); err == nil {
			cfg.Partition.NBits = n
		}
	}
	if iters := os.Getenv("COORDPART_REFINE_ITERATIONS"); iters != "" {
		if n, err := strconv.Atoi(iters); err == nil {
			cfg.Partition.RefineIterations = n
		}
	}
	if tol := os.Getenv("COORDPART_BALANCE_TOLERANCE"); tol != "" {
		if f, err := strconv.ParseFloat(tol, 64); err == nil {
			cfg.Partition.BalanceTolerance = f
		}
	}
	if min := os.Getenv("COORDPART_MIN_SAMPLES"); min != "" {
		if n, err := strconv.Atoi(min); err == nil {
			cfg.Partition.MinSamples = n
		}
	}

	if restEnabled := os.Getenv("COORDPART_REST_ENABLED"); restEnabled == "false" {
		cfg.REST.Enabled = false
	}
	if host := os.Getenv("COORDPART_REST_HOST"); host != "" {
		cfg.REST.Host = host
	}
	if port := os.Getenv("COORDPART_REST_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.REST.Port = p
		}
	}
	if secret := os.Getenv("COORDPART_JWT_SECRET"); secret != "" {
		cfg.REST.JWTSecret = secret
		cfg.REST.AuthEnabled = true
	}

	return cfg
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Node.Size < 1 {
		return fmt.Errorf("invalid node size: %d (must be > 0)", c.Node.Size)
	}
	if c.Node.Rank < 0 || c.Node.Rank >= c.Node.Size {
		return fmt.Errorf("invalid rank: %d (must be in [0,%d))", c.Node.Rank, c.Node.Size)
	}
	if c.Fabric.Port < 1 || c.Fabric.Port > 65535 {
		return fmt.Errorf("invalid fabric port: %d (must be 1-65535)", c.Fabric.Port)
	}
	if c.Fabric.EnableTLS && (c.Fabric.CertFile == "" || c.Fabric.KeyFile == "") {
		return fmt.Errorf("fabric TLS enabled but cert or key file not specified")
	}

	if c.Partition.NBits < 1 || c.Partition.NBits > 31 {
		return fmt.Errorf("invalid NBits: %d (must be 1-31)", c.Partition.NBits)
	}
	if c.Partition.RefineIterations < 1 {
		return fmt.Errorf("invalid RefineIterations: %d (must be >= 1)", c.Partition.RefineIterations)
	}
	if c.Partition.BalanceTolerance <= 0 {
		return fmt.Errorf("invalid BalanceTolerance: %v (must be > 0)", c.Partition.BalanceTolerance)
	}
	if c.Partition.MinSamples <= 0 {
		return fmt.Errorf("invalid MinSamples: %d (must be > 0)", c.Partition.MinSamples)
	}

	if c.REST.Enabled && (c.REST.Port < 1 || c.REST.Port > 65535) {
		return fmt.Errorf("invalid REST port: %d (must be 1-65535)", c.REST.Port)
	}

	return nil
}

// Address returns the fabric server's listen address (host:port).
func (c *FabricConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Address returns the REST gateway's listen address (host:port).
func (c *RESTConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	grpcapi "github.com/coordpart/coordpart/pkg/api/grpc"
	"github.com/coordpart/coordpart/pkg/coordpart"
	"github.com/coordpart/coordpart/pkg/jobs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const version = "1.0.0"

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	flag.StringVar(&serverAddr, "server", "localhost:9090", "fabric gRPC server address")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	command := os.Args[1]

	switch command {
	case "submit":
		handleSubmit(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "list":
		handleList(os.Args[2:])
	case "health":
		handleHealth(os.Args[2:])
	case "simulate":
		handleSimulate(os.Args[2:])
	case "version":
		fmt.Printf("coordpart-cli version %s\n", version)
	case "help", "-h", "--help":
		showUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		showUsage()
		os.Exit(1)
	}
}

// handleSubmit submits a partition job to a running coordpart-server and
// prints the assigned job ID.
func handleSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	var (
		name   = fs.String("name", "", "job name")
		gnvtxs = fs.Int64("gnvtxs", 0, "total number of vertices (required)")
		ranks  = fs.Int("ranks", 0, "number of ranks to partition across (required)")
		ndims  = fs.Int("dims", 3, "number of coordinate dimensions")
	)
	fs.StringVar(&serverAddr, "server", serverAddr, "fabric gRPC server address")
	fs.Parse(args)

	if *gnvtxs <= 0 || *ranks <= 0 {
		fmt.Println("Error: -gnvtxs and -ranks are required and must be positive")
		fs.Usage()
		os.Exit(1)
	}

	client, conn := connectToServer()
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.SubmitJob(ctx, &grpcapi.SubmitJobRequest{
		Name:       *name,
		GNVtxs:     *gnvtxs,
		Ranks:      *ranks,
		Dimensions: *ndims,
	})
	if err != nil {
		fmt.Printf("Submit failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Job submitted: %s\n", resp.JobID)
}

// handleStatus polls a job's current status and prints its result once
// completed.
func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.StringVar(&serverAddr, "server", serverAddr, "fabric gRPC server address")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Println("Error: job id required")
		fmt.Println("Usage: coordpart-cli status <job-id>")
		os.Exit(1)
	}
	jobID := fs.Arg(0)

	client, conn := connectToServer()
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.GetJob(ctx, &grpcapi.GetJobRequest{JobID: jobID})
	if err != nil {
		fmt.Printf("Status check failed: %v\n", err)
		os.Exit(1)
	}

	printJobResponse(resp)
}

// handleList prints every job the control plane is tracking.
func handleList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.StringVar(&serverAddr, "server", serverAddr, "fabric gRPC server address")
	fs.Parse(args)

	client, conn := connectToServer()
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.ListJobs(ctx, &grpcapi.ListJobsRequest{})
	if err != nil {
		fmt.Printf("List failed: %v\n", err)
		os.Exit(1)
	}

	if len(resp.Jobs) == 0 {
		fmt.Println("No jobs tracked.")
		return
	}
	for _, j := range resp.Jobs {
		fmt.Printf("%-12s %-20s %-10s\n", j.JobID, j.Name, j.Status)
	}
}

// handleHealth checks whether the control plane is reachable and serving.
func handleHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	fs.StringVar(&serverAddr, "server", serverAddr, "fabric gRPC server address")
	fs.Parse(args)

	client, conn := connectToServer()
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := client.HealthCheck(ctx, &grpcapi.HealthCheckRequest{})
	if err != nil {
		fmt.Printf("Health check failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Healthy: %v (uptime %.1fs)\n", resp.Healthy, resp.UptimeSeconds)
}

// handleSimulate runs a partition job entirely in-process using
// pkg/jobs.RunSimulated, without contacting a server. Useful for trying the
// partitioner out locally before standing up a cluster.
func handleSimulate(args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	var (
		gnvtxs = fs.Int64("gnvtxs", 10000, "total number of vertices")
		ranks  = fs.Int("ranks", 4, "number of simulated ranks")
		ndims  = fs.Int("dims", 3, "number of coordinate dimensions")
		seed   = fs.Int64("seed", 1, "random seed for synthetic coordinates")
	)
	fs.Parse(args)

	manager := jobs.NewManager()
	job, err := manager.Submit("simulate", jobs.UnlimitedQuota(), *gnvtxs, *ranks, *ndims)
	if err != nil {
		fmt.Printf("Failed to set up simulated job: %v\n", err)
		os.Exit(1)
	}
	job.MarkRunning()

	result, err := jobs.RunSimulated(job, coordpart.DefaultOptions(), *seed)
	if err != nil {
		job.MarkFailed(err)
		fmt.Printf("Simulation failed: %v\n", err)
		os.Exit(1)
	}
	job.MarkCompleted(result)

	fmt.Printf("Simulated job %s completed.\n", job.ID)
	fmt.Printf("Part sizes: %v\n", result.PartSizes)
	fmt.Printf("Average pairwise distance (part 0): %.4f\n", result.AvgPairwiseDistance)
}

func printJobResponse(resp *grpcapi.GetJobResponse) {
	fmt.Printf("Job ID:   %s\n", resp.JobID)
	fmt.Printf("Name:     %s\n", resp.Name)
	fmt.Printf("Status:   %s\n", resp.Status)
	if resp.Error != "" {
		fmt.Printf("Error:    %s\n", resp.Error)
	}
	if resp.PartSizes != nil {
		b, _ := json.MarshalIndent(resp.PartSizes, "", "  ")
		fmt.Printf("Part sizes: %s\n", b)
		fmt.Printf("Avg pairwise distance: %.4f\n", resp.AvgPairwiseDistance)
	}
}

func connectToServer() (*grpcapi.JobControlClient, *grpc.ClientConn) {
	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Printf("Failed to connect to %s: %v\n", serverAddr, err)
		os.Exit(1)
	}
	return grpcapi.NewJobControlClient(conn), conn
}

func showUsage() {
	fmt.Println("coordpart-cli - client for the coordpart job-control plane")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  coordpart-cli <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  submit     Submit a partition job")
	fmt.Println("  status     Check a job's status")
	fmt.Println("  list       List all tracked jobs")
	fmt.Println("  health     Check server health")
	fmt.Println("  simulate   Run a partition job locally without a server")
	fmt.Println("  version    Show version information")
	fmt.Println("  help       Show this help message")
	fmt.Println()
	fmt.Println("Options of submit, status, list and health (given after the command):")
	fmt.Println("  -server ADDR    Fabric gRPC server address (default: localhost:9090)")
	fmt.Println()
	fmt.Println("Requests to the server time out after 30s; the timeout has no command-line option.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  coordpart-cli submit -gnvtxs 1000000 -ranks 8 -dims 3")
	fmt.Println("  coordpart-cli status job-1")
	fmt.Println("  coordpart-cli simulate -gnvtxs 10000 -ranks 4")
	fmt.Println()
}

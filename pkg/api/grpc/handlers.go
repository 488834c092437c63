package grpc

import (
	"context"
	"time"

	"github.com/coordpart/coordpart/pkg/jobs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SubmitJob implements the SubmitJob RPC. The job is registered
// synchronously and then run in the background; GetJob polls for its
// completion.
func (s *Server) SubmitJob(ctx context.Context, req *SubmitJobRequest) (*SubmitJobResponse, error) {
	start := time.Now()

	if req.GNVtxs <= 0 {
		err := status.Error(codes.InvalidArgument, "gnvtxs must be positive")
		s.metrics.RecordError("SubmitJob", "validation_error")
		return nil, err
	}
	if req.Ranks <= 0 {
		err := status.Error(codes.InvalidArgument, "ranks must be positive")
		s.metrics.RecordError("SubmitJob", "validation_error")
		return nil, err
	}
	if req.Dimensions <= 0 {
		err := status.Error(codes.InvalidArgument, "dimensions must be positive")
		s.metrics.RecordError("SubmitJob", "validation_error")
		return nil, err
	}

	job, err := s.manager.Submit(req.Name, s.quotaFromConfig(), req.GNVtxs, req.Ranks, req.Dimensions)
	if err != nil {
		s.metrics.RecordError("SubmitJob", "quota_exceeded")
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	}

	s.metrics.RecordJobSubmitted()
	job.MarkRunning()

	go s.runJob(job)

	s.metrics.RecordRequest("SubmitJob", "success", time.Since(start))
	return &SubmitJobResponse{JobID: job.ID}, nil
}

func (s *Server) runJob(job *jobs.Job) {
	runStart := time.Now()
	result, err := jobs.RunSimulated(job, s.opts, s.nextSeedValue())
	if err != nil {
		job.MarkFailed(err)
		s.metrics.RecordJobFailed()
		return
	}
	job.MarkCompleted(result)
	s.metrics.RecordJobCompleted(job.ID, time.Since(runStart), 0, 0, result.PartSizes, result.AvgPairwiseDistance)
}

func (s *Server) quotaFromConfig() jobs.Quota {
	return jobs.Quota{
		MaxVertices:   s.config.Quota.MaxVertices,
		MaxRanks:      s.config.Quota.MaxRanks,
		MaxDimensions: s.config.Quota.MaxDimensions,
		RateLimitQPS:  s.config.Quota.RateLimitQPS,
	}
}

// GetJob implements the GetJob RPC.
func (s *Server) GetJob(ctx context.Context, req *GetJobRequest) (*GetJobResponse, error) {
	start := time.Now()

	job, err := s.manager.Get(req.JobID)
	if err != nil {
		s.metrics.RecordError("GetJob", "not_found")
		return nil, status.Error(codes.NotFound, err.Error())
	}

	resp := jobToResponse(job)
	s.metrics.RecordRequest("GetJob", "success", time.Since(start))
	return resp, nil
}

// ListJobs implements the ListJobs RPC.
func (s *Server) ListJobs(ctx context.Context, req *ListJobsRequest) (*ListJobsResponse, error) {
	start := time.Now()

	jobList := s.manager.List()
	resp := &ListJobsResponse{Jobs: make([]GetJobResponse, 0, len(jobList))}
	for _, job := range jobList {
		resp.Jobs = append(resp.Jobs, *jobToResponse(job))
	}

	s.metrics.RecordRequest("ListJobs", "success", time.Since(start))
	return resp, nil
}

// HealthCheck implements the HealthCheck RPC.
func (s *Server) HealthCheck(ctx context.Context, req *HealthCheckRequest) (*HealthCheckResponse, error) {
	return &HealthCheckResponse{Healthy: true, UptimeSeconds: s.Uptime().Seconds()}, nil
}

func jobToResponse(job *jobs.Job) *GetJobResponse {
	resp := &GetJobResponse{
		JobID:  job.ID,
		Name:   job.Name,
		Status: string(job.Status()),
		Error:  job.Err(),
	}
	if result := job.Result(); result != nil {
		resp.PartSizes = result.PartSizes
		resp.AvgPairwiseDistance = result.AvgPairwiseDistance
	}
	return resp
}

package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// This package hand-registers its RPC service rather than depending on a
// protoc-generated .pb.go file: every method's wire message is a
// wrapperspb.BytesValue carrying a JSON-encoded request or response below.
// It still exercises google.golang.org/grpc end to end (codec, keepalive,
// reflection, interceptors) and google.golang.org/protobuf (the wrapper
// type is itself a generated proto.Message), just without a build step.

// SubmitJobRequest asks the control plane to start a new partition job.
type SubmitJobRequest struct {
	Name       string `json:"name"`
	GNVtxs     int64  `json:"gnvtxs"`
	Ranks      int    `json:"ranks"`
	Dimensions int    `json:"dimensions"`
}

// SubmitJobResponse reports the newly created job's ID.
type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

// GetJobRequest asks for one job's current state.
type GetJobRequest struct {
	JobID string `json:"job_id"`
}

// GetJobResponse reports a job's lifecycle state and, once completed, its
// result.
type GetJobResponse struct {
	JobID               string  `json:"job_id"`
	Name                string  `json:"name"`
	Status              string  `json:"status"`
	Error               string  `json:"error,omitempty"`
	PartSizes           []int64 `json:"part_sizes,omitempty"`
	AvgPairwiseDistance float64 `json:"avg_pairwise_distance,omitempty"`
}

// ListJobsRequest has no fields; every tracked job is returned.
type ListJobsRequest struct{}

// ListJobsResponse enumerates every tracked job, newest first.
type ListJobsResponse struct {
	Jobs []GetJobResponse `json:"jobs"`
}

// HealthCheckRequest has no fields.
type HealthCheckRequest struct{}

// HealthCheckResponse reports liveness and uptime.
type HealthCheckResponse struct {
	Healthy       bool    `json:"healthy"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// JobControlServer is the control-plane service a Server implements.
type JobControlServer interface {
	SubmitJob(context.Context, *SubmitJobRequest) (*SubmitJobResponse, error)
	GetJob(context.Context, *GetJobRequest) (*GetJobResponse, error)
	ListJobs(context.Context, *ListJobsRequest) (*ListJobsResponse, error)
	HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error)
}

func decodeEnvelope(msg *wrapperspb.BytesValue, v interface{}) error {
	if msg == nil {
		return fmt.Errorf("grpc: nil request envelope")
	}
	return json.Unmarshal(msg.Value, v)
}

func encodeEnvelope(v interface{}) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &wrapperspb.BytesValue{Value: b}, nil
}

func submitJobHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return invokeSubmitJob(srv.(JobControlServer), ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coordpart.JobControl/SubmitJob"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return invokeSubmitJob(srv.(JobControlServer), ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func invokeSubmitJob(s JobControlServer, ctx context.Context, in *wrapperspb.BytesValue) (interface{}, error) {
	var req SubmitJobRequest
	if err := decodeEnvelope(in, &req); err != nil {
		return nil, err
	}
	resp, err := s.SubmitJob(ctx, &req)
	if err != nil {
		return nil, err
	}
	return encodeEnvelope(resp)
}

func getJobHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return invokeGetJob(srv.(JobControlServer), ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coordpart.JobControl/GetJob"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return invokeGetJob(srv.(JobControlServer), ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func invokeGetJob(s JobControlServer, ctx context.Context, in *wrapperspb.BytesValue) (interface{}, error) {
	var req GetJobRequest
	if err := decodeEnvelope(in, &req); err != nil {
		return nil, err
	}
	resp, err := s.GetJob(ctx, &req)
	if err != nil {
		return nil, err
	}
	return encodeEnvelope(resp)
}

func listJobsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return invokeListJobs(srv.(JobControlServer), ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coordpart.JobControl/ListJobs"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return invokeListJobs(srv.(JobControlServer), ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func invokeListJobs(s JobControlServer, ctx context.Context, in *wrapperspb.BytesValue) (interface{}, error) {
	var req ListJobsRequest
	if err := decodeEnvelope(in, &req); err != nil {
		return nil, err
	}
	resp, err := s.ListJobs(ctx, &req)
	if err != nil {
		return nil, err
	}
	return encodeEnvelope(resp)
}

func healthCheckHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return invokeHealthCheck(srv.(JobControlServer), ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/coordpart.JobControl/HealthCheck"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return invokeHealthCheck(srv.(JobControlServer), ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func invokeHealthCheck(s JobControlServer, ctx context.Context, in *wrapperspb.BytesValue) (interface{}, error) {
	var req HealthCheckRequest
	if err := decodeEnvelope(in, &req); err != nil {
		return nil, err
	}
	resp, err := s.HealthCheck(ctx, &req)
	if err != nil {
		return nil, err
	}
	return encodeEnvelope(resp)
}

// ServiceDesc is the hand-registered grpc.ServiceDesc for JobControlServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "coordpart.JobControl",
	HandlerType: (*JobControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitJob", Handler: submitJobHandler},
		{MethodName: "GetJob", Handler: getJobHandler},
		{MethodName: "ListJobs", Handler: listJobsHandler},
		{MethodName: "HealthCheck", Handler: healthCheckHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coordpart/jobcontrol.proto",
}

// RegisterJobControlServer registers srv against gs using ServiceDesc.
func RegisterJobControlServer(gs grpc.ServiceRegistrar, srv JobControlServer) {
	gs.RegisterService(&ServiceDesc, srv)
}

// JobControlClient calls a remote JobControlServer over an existing
// *grpc.ClientConn, using the same BytesValue envelope as the server.
type JobControlClient struct {
	cc *grpc.ClientConn
}

// NewJobControlClient wraps conn.
func NewJobControlClient(conn *grpc.ClientConn) *JobControlClient {
	return &JobControlClient{cc: conn}
}

func (c *JobControlClient) call(ctx context.Context, method string, req, resp interface{}) error {
	in, err := encodeEnvelope(req)
	if err != nil {
		return err
	}
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/coordpart.JobControl/"+method, in, out); err != nil {
		return err
	}
	return json.Unmarshal(out.Value, resp)
}

// SubmitJob calls the remote SubmitJob RPC.
func (c *JobControlClient) SubmitJob(ctx context.Context, req *SubmitJobRequest) (*SubmitJobResponse, error) {
	resp := new(SubmitJobResponse)
	if err := c.call(ctx, "SubmitJob", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetJob calls the remote GetJob RPC.
func (c *JobControlClient) GetJob(ctx context.Context, req *GetJobRequest) (*GetJobResponse, error) {
	resp := new(GetJobResponse)
	if err := c.call(ctx, "GetJob", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListJobs calls the remote ListJobs RPC.
func (c *JobControlClient) ListJobs(ctx context.Context, req *ListJobsRequest) (*ListJobsResponse, error) {
	resp := new(ListJobsResponse)
	if err := c.call(ctx, "ListJobs", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// HealthCheck calls the remote HealthCheck RPC.
func (c *JobControlClient) HealthCheck(ctx context.Context, req *HealthCheckRequest) (*HealthCheckResponse, error) {
	resp := new(HealthCheckResponse)
	if err := c.call(ctx, "HealthCheck", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Package fabric implements pkg/messaging.Substrate over gRPC: one rank per
// OS process, all connected to rank 0's fabric server over a single
// bidirectional stream each. It gives the partitioner a real networked
// transport to run against, alongside pkg/messaging.Local's in-process
// simulation.
//
// Collectives and point-to-point transfer are modeled exactly the way
// pkg/messaging.Local models them — a rendezvous for collectives, a
// channel-keyed mailbox for point-to-point — just carried over frames on a
// gRPC stream instead of Go channels directly. Every rank's fabric.Substrate
// sends one frame and blocks for the matching reply before proceeding,
// which is a deliberate simplification of the "ring/tree schedule" this
// module's design notes once considered: a single hub keeps the collective
// logic identical to Local's, at the cost of rank 0 being a bottleneck for
// large P. That trade is recorded in DESIGN.md.
package fabric

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// frameKind names the operation a frame carries.
type frameKind string

const (
	kindHello           frameKind = "hello"
	kindAllReduceInt64  frameKind = "allreduce_int64"
	kindAllReduceFloat  frameKind = "allreduce_float64"
	kindAllReduceSlice  frameKind = "allreduce_int64_slice"
	kindAllGatherInt64  frameKind = "allgather_int64"
	kindAllToAll        frameKind = "alltoall"
	kindScanInt64Sum    frameKind = "scan_int64_sum"
	kindPTPSend         frameKind = "ptp_send"
	kindPTPRecv         frameKind = "ptp_recv"
	kindAck             frameKind = "ack"
)

// frame is the single wire message exchanged on a fabric stream, JSON
// encoded into a wrapperspb.BytesValue so the stream never needs a
// protoc-generated message type. ID correlates a reply to the request that
// caused it: a rank's stream can have more than one request outstanding at
// once (a posted receive waiting on a peer's not-yet-arrived send must not
// block that rank's own matching send from going out), so replies cannot
// be matched by stream position alone.
type frame struct {
	Kind       frameKind `json:"kind"`
	ID         uint64    `json:"id,omitempty"`
	Rank       int       `json:"rank"`
	Op         int       `json:"op,omitempty"`
	Int64Val   int64     `json:"int64_val,omitempty"`
	Float64Val float64   `json:"float64_val,omitempty"`
	Int64Slice []int64   `json:"int64_slice,omitempty"`
	ByteSlices [][]byte  `json:"byte_slices,omitempty"`
	Bytes      []byte    `json:"bytes,omitempty"`
	Src        int       `json:"src,omitempty"`
	Dest       int       `json:"dest,omitempty"`
	Tag        int       `json:"tag,omitempty"`
	Length     int       `json:"length,omitempty"`
}

func encodeFrame(f *frame) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return &wrapperspb.BytesValue{Value: b}, nil
}

func decodeFrame(msg *wrapperspb.BytesValue) (*frame, error) {
	f := new(frame)
	if err := json.Unmarshal(msg.Value, f); err != nil {
		return nil, err
	}
	return f, nil
}

// channelStreamHandler adapts the raw gRPC stream to hub.serveConn.
func channelStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	h := srv.(*Hub)
	return h.serveConn(stream)
}

// ServiceDesc is the hand-registered grpc.ServiceDesc for the fabric
// channel service: a single bidirectional stream per rank connection.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "coordpart.Fabric",
	HandlerType: (*interface{})(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       channelStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "coordpart/fabric.proto",
}

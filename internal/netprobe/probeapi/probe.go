// Package probeapi declares the netprobe.v1.Probe gRPC service.
//
// The service is built from protobuf well-known types so that no generated
// message code is needed:
//
//	rpc Ping(google.protobuf.Empty) returns (google.protobuf.Empty);
//	rpc Upload(stream google.protobuf.BytesValue) returns (stream google.protobuf.Struct);
//
// Each Upload request carries one chunk; each response is {"bytes": n, "dt": seconds}.
package probeapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"netprobe/internal/netprobe/domain"
)

const (
	ServiceName      = "netprobe.v1.Probe"
	PingFullMethod   = "/" + ServiceName + "/Ping"
	UploadFullMethod = "/" + ServiceName + "/Upload"
)

type (
	UploadServerStream = grpc.BidiStreamingServer[wrapperspb.BytesValue, structpb.Struct]
	UploadClientStream = grpc.BidiStreamingClient[wrapperspb.BytesValue, structpb.Struct]
)

// ProbeServer is the server API for the Probe service.
type ProbeServer interface {
	Ping(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Upload(UploadServerStream) error
}

// RegisterProbeServer registers srv on s
func RegisterProbeServer(s grpc.ServiceRegistrar, srv ProbeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func pingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProbeServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PingFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProbeServer).Ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func uploadHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ProbeServer).Upload(&grpc.GenericServerStream[wrapperspb.BytesValue, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc is the grpc.ServiceDesc for the Probe service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProbeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Upload",
			Handler:       uploadHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "netprobe/v1/probe.proto",
}

// ProbeClient is the client API for the Probe service.
type ProbeClient struct {
	cc grpc.ClientConnInterface
}

func NewProbeClient(cc grpc.ClientConnInterface) *ProbeClient {
	return &ProbeClient{cc: cc}
}

func (c *ProbeClient) Ping(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, PingFullMethod, &emptypb.Empty{}, new(emptypb.Empty), opts...)
}

func (c *ProbeClient) Upload(ctx context.Context, opts ...grpc.CallOption) (UploadClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], UploadFullMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[wrapperspb.BytesValue, structpb.Struct]{ClientStream: stream}, nil
}

// SampleToStruct encodes an acknowledgement
func SampleToStruct(s domain.ThroughputSample) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"bytes": structpb.NewNumberValue(float64(s.Bytes)),
		"dt":    structpb.NewNumberValue(s.ElapsedSeconds),
	}}
}

// SampleFromStruct decodes an acknowledgement
func SampleFromStruct(st *structpb.Struct) (domain.ThroughputSample, error) {
	bytesVal, ok := st.GetFields()["bytes"]
	if !ok {
		return domain.ThroughputSample{}, fmt.Errorf("acknowledgement missing bytes")
	}
	dtVal, ok := st.GetFields()["dt"]
	if !ok {
		return domain.ThroughputSample{}, fmt.Errorf("acknowledgement missing dt")
	}
	return domain.ThroughputSample{
		Bytes:          int64(bytesVal.GetNumberValue()),
		ElapsedSeconds: dtVal.GetNumberValue(),
	}, nil
}

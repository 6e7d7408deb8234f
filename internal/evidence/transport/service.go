package transport

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "retrovue.evidence.v1.EvidenceService"

// StreamMethod is the full method path of the bidi stream.
const StreamMethod = "/" + ServiceName + "/Stream"

// EvidenceServer is the receiver side of the stream.
type EvidenceServer interface {
	Stream(stream grpc.BidiStreamingServer[ClientMessage, ServerMessage]) error
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(EvidenceServer).Stream(
		&grpc.GenericServerStream[ClientMessage, ServerMessage]{ServerStream: stream})
}

// ServiceDesc describes the evidence stream without generated code; the JSON
// codec carries the frames.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EvidenceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{{
		StreamName:    "Stream",
		Handler:       streamHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "retrovue/evidence/v1/evidence.json",
}

// RegisterEvidenceServer attaches the stream to a gRPC server.
func RegisterEvidenceServer(s grpc.ServiceRegistrar, srv EvidenceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// OpenStream dials the stream on an existing connection with the JSON codec.
func OpenStream(ctx context.Context, conn *grpc.ClientConn) (grpc.BidiStreamingClient[ClientMessage, ServerMessage], error) {
	s, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], StreamMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[ClientMessage, ServerMessage]{ClientStream: s}, nil
}

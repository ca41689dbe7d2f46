package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/rbright/candor/internal/agent/wire"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names of the voice agent stream.
const (
	ServiceName   = "candor.voice.v1.VoiceAgent"
	ConverseName  = "Converse"
	ConverseRoute = "/" + ServiceName + "/" + ConverseName
)

var converseDesc = grpc.StreamDesc{
	StreamName:    ConverseName,
	ServerStreams: true,
	ClientStreams: true,
}

// AgentServer is implemented by voice agents served over gRPC.
type AgentServer interface {
	Converse(stream grpc.ServerStream) error
}

// ServiceDesc describes the VoiceAgent service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgentServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    ConverseName,
			ServerStreams: true,
			ClientStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(AgentServer).Converse(stream)
			},
		},
	},
}

// RegisterAgentServer registers srv on s.
func RegisterAgentServer(s grpc.ServiceRegistrar, srv AgentServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// EncodeFrame converts a wire frame to its protobuf Struct form.
func EncodeFrame(frame wire.Frame) (*structpb.Struct, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal agent frame: %w", err)
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("encode agent frame: %w", err)
	}
	return msg, nil
}

// DecodeFrame converts a protobuf Struct back to a wire frame.
func DecodeFrame(msg *structpb.Struct) (wire.Frame, error) {
	data, err := protojson.Marshal(msg)
	if err != nil {
		return wire.Frame{}, fmt.Errorf("marshal agent frame: %w", err)
	}
	return wire.Decode(data)
}

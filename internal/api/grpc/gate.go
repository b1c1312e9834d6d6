// Package grpc exposes the action gate over gRPC. The service uses
// well-known message types (structpb documents and bytes wrappers) rather
// than a generated stub: requests are JSON-shaped documents, table payloads
// ride as encoded byte blobs.
package grpc

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fluxbridge/fluxbridge/internal/codec"
	"github.com/fluxbridge/fluxbridge/internal/gate"
)

// ServiceName is the fully-qualified gRPC service name of the gate.
const ServiceName = "fluxbridge.v1.ActionGate"

// GateServer implements the ActionGate service over a gate.Gate.
type GateServer struct {
	gate *gate.Gate
}

// NewGateServer creates the gRPC gate server.
func NewGateServer(g *gate.Gate) *GateServer {
	return &GateServer{gate: g}
}

// Register attaches the service to a grpc.Server.
func (s *GateServer) Register(server *grpc.Server) {
	server.RegisterService(&serviceDesc, s)
}

// DoAction dispatches one JSON-bodied action. The request document carries
// {action: string, body: object}.
func (s *GateServer) DoAction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	action, ok := stringField(req, "action")
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "action is required")
	}

	var body []byte
	if bodyVal, ok := req.GetFields()["body"]; ok {
		var err error
		body, err = bodyVal.MarshalJSON()
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid action body: %v", err)
		}
	} else {
		body = []byte("{}")
	}

	result, err := s.gate.Do(ctx, action, body)
	if err != nil {
		return nil, statusFromError(err)
	}
	return toStruct(map[string]any{"result": result})
}

// DoPut uploads one table. The request document carries
// {descriptor: {command | path}, payload_b64: base64(encoded table)}.
func (s *GateServer) DoPut(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	desc, err := descriptorField(req)
	if err != nil {
		return nil, err
	}
	payloadB64, ok := stringField(req, "payload_b64")
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "payload_b64 is required")
	}
	payload, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid payload encoding: %v", err)
	}
	t, err := codec.Decode(payload)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid table payload: %v", err)
	}

	if err := s.gate.DoPut(ctx, desc, t); err != nil {
		return nil, statusFromError(err)
	}
	return toStruct(map[string]any{"key": desc.Key()})
}

// DoGet downloads one table as its encoded byte payload.
func (s *GateServer) DoGet(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	desc, err := descriptorField(req)
	if err != nil {
		return nil, err
	}
	t, err := s.gate.DoGet(ctx, desc)
	if err != nil {
		return nil, statusFromError(err)
	}
	payload, err := codec.Encode(t)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode table: %v", err)
	}
	return wrapperspb.Bytes(payload), nil
}

// ListFlights enumerates stored tables.
func (s *GateServer) ListFlights(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	infos, err := s.gate.ListFlights(ctx)
	if err != nil {
		return nil, statusFromError(err)
	}
	return toStruct(map[string]any{"flights": infos})
}

// GetFlightInfo describes one stored table.
func (s *GateServer) GetFlightInfo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	desc, err := descriptorField(req)
	if err != nil {
		return nil, err
	}
	info, err := s.gate.GetFlightInfo(ctx, desc)
	if err != nil {
		return nil, statusFromError(err)
	}
	return toStruct(map[string]any{"info": info})
}

func stringField(req *structpb.Struct, name string) (string, bool) {
	v, ok := req.GetFields()[name]
	if !ok {
		return "", false
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok || s.StringValue == "" {
		return "", false
	}
	return s.StringValue, true
}

// descriptorField decodes the descriptor sub-document of a request.
func descriptorField(req *structpb.Struct) (gate.Descriptor, error) {
	v, ok := req.GetFields()["descriptor"]
	if !ok {
		return gate.Descriptor{}, status.Error(codes.InvalidArgument, "descriptor is required")
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return gate.Descriptor{}, status.Errorf(codes.InvalidArgument, "invalid descriptor: %v", err)
	}
	var desc gate.Descriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return gate.Descriptor{}, status.Errorf(codes.InvalidArgument, "invalid descriptor: %v", err)
	}
	return desc, nil
}

// toStruct converts a JSON-marshalable value into a structpb document.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// extractRequestID reads the caller-supplied request ID or generates one.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}

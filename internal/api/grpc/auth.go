package grpc

import (
	"context"
	"log"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fluxbridge/fluxbridge/internal/auth"
	"github.com/fluxbridge/fluxbridge/internal/gate"
)

// Metadata keys for the auth flow. A successful basic handshake returns the
// issued bearer token in the response header so the caller can switch.
const (
	authorizationKey = "authorization"
	issuedTokenKey   = "authorization-token"
)

// methodActions maps RPC methods to their gate action for auth lookup.
// DoAction's action rides in the request body instead.
var methodActions = map[string]string{
	"DoPut":         gate.ActionDoPut,
	"DoGet":         gate.ActionDoGet,
	"ListFlights":   gate.ActionListFlights,
	"GetFlightInfo": gate.ActionGetFlightInfo,
}

// UnaryAuthInterceptor enforces the per-action auth requirement before any
// handler runs. Unauthenticated verbs pass through untouched.
func UnaryAuthInterceptor(authenticator *auth.Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		action := actionForCall(info.FullMethod, req)
		requestID := extractRequestID(ctx)

		required, known := gate.RequiresAuth(action)
		if known && required {
			identity, err := authenticate(ctx, authenticator)
			if err != nil {
				log.Printf("grpc: %s request_id=%s rejected: %v", info.FullMethod, requestID, err)
				return nil, status.Error(codes.Unauthenticated, "authentication required")
			}
			if identity.Token != "" {
				// Best-effort; the call proceeds even if the header cannot
				// be set.
				_ = grpc.SetHeader(ctx, metadata.Pairs(issuedTokenKey, identity.Token))
			}
			log.Printf("grpc: %s request_id=%s user=%s", info.FullMethod, requestID, identity.Username)
		} else {
			log.Printf("grpc: %s request_id=%s", info.FullMethod, requestID)
		}

		return handler(ctx, req)
	}
}

// actionForCall resolves the gate action of an RPC call. For DoAction the
// action name is read from the request document; an absent name maps to an
// unknown action, which the handler rejects anyway.
func actionForCall(fullMethod string, req interface{}) string {
	method := fullMethod
	if i := strings.LastIndex(fullMethod, "/"); i >= 0 {
		method = fullMethod[i+1:]
	}
	if action, ok := methodActions[method]; ok {
		return action
	}
	if method == "DoAction" {
		if doc, ok := req.(*structpb.Struct); ok {
			if action, ok := stringField(doc, "action"); ok {
				return action
			}
		}
	}
	return ""
}

func authenticate(ctx context.Context, authenticator *auth.Authenticator) (*auth.Identity, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get(authorizationKey)
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}
	return authenticator.Authenticate(ctx, values[0])
}

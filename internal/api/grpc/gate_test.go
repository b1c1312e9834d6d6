package grpc

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fluxbridge/fluxbridge/internal/auth"
	"github.com/fluxbridge/fluxbridge/internal/codec"
	"github.com/fluxbridge/fluxbridge/internal/gate"
	"github.com/fluxbridge/fluxbridge/internal/registry"
	"github.com/fluxbridge/fluxbridge/pkg/types"
)

func newGateServer(t *testing.T) (*GateServer, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	return NewGateServer(gate.New(reg, nil, nil, nil)), reg
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func TestStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("wrapped: %w", types.ErrAuth), codes.Unauthenticated},
		{fmt.Errorf("wrapped: %w", types.ErrNotFound), codes.NotFound},
		{fmt.Errorf("wrapped: %w", types.ErrConflict), codes.AlreadyExists},
		{fmt.Errorf("wrapped: %w", types.ErrUnimplemented), codes.Unimplemented},
		{fmt.Errorf("wrapped: %w", types.ErrProtocol), codes.InvalidArgument},
		{fmt.Errorf("wrapped: %w", types.ErrMissingName), codes.InvalidArgument},
		{fmt.Errorf("wrapped: %w", types.ErrAssembly), codes.InvalidArgument},
		{fmt.Errorf("wrapped: %w", types.ErrSolver), codes.Internal},
		{fmt.Errorf("anything else"), codes.Internal},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, status.Code(statusFromError(c.err)), "%v", c.err)
	}

	// Errors that already carry a status pass through untouched.
	existing := status.Error(codes.ResourceExhausted, "limits")
	assert.Equal(t, codes.ResourceExhausted, status.Code(statusFromError(existing)))
}

func TestDoActionListActions(t *testing.T) {
	s, _ := newGateServer(t)

	resp, err := s.DoAction(context.Background(), mustStruct(t, map[string]any{
		"action": gate.ActionListActions,
	}))
	require.NoError(t, err)
	assert.Contains(t, resp.GetFields(), "result")
}

func TestDoActionMissingAction(t *testing.T) {
	s, _ := newGateServer(t)
	_, err := s.DoAction(context.Background(), mustStruct(t, map[string]any{}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDoActionUnknown(t *testing.T) {
	s, _ := newGateServer(t)
	_, err := s.DoAction(context.Background(), mustStruct(t, map[string]any{
		"action": "frobnicate",
	}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestDoActionClear(t *testing.T) {
	s, _ := newGateServer(t)
	_, err := s.DoAction(context.Background(), mustStruct(t, map[string]any{
		"action": gate.ActionClear,
	}))
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestDoPutDoGetRoundTrip(t *testing.T) {
	s, reg := newGateServer(t)
	ctx := context.Background()

	tbl := types.NewTable("b", types.NewFloat64Column("value", []float64{1, 2, 3}))
	payload, err := codec.Encode(tbl)
	require.NoError(t, err)

	putResp, err := s.DoPut(ctx, mustStruct(t, map[string]any{
		"descriptor":  map[string]any{"path": []any{"ecoli", "b"}},
		"payload_b64": base64.StdEncoding.EncodeToString(payload),
	}))
	require.NoError(t, err)
	assert.Equal(t, "path:ecoli/b", putResp.GetFields()["key"].GetStringValue())

	_, ok := reg.GetTable("ecoli", "b")
	require.True(t, ok)

	getResp, err := s.DoGet(ctx, mustStruct(t, map[string]any{
		"descriptor": map[string]any{"command": "ecoli/b"},
	}))
	require.NoError(t, err)
	got, err := codec.Decode(getResp.GetValue())
	require.NoError(t, err)
	assert.True(t, tbl.Equal(got))
}

func TestDoGetMissingTable(t *testing.T) {
	s, _ := newGateServer(t)
	_, err := s.DoGet(context.Background(), mustStruct(t, map[string]any{
		"descriptor": map[string]any{"command": "nope/b"},
	}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestDoPutRejectsBadPayload(t *testing.T) {
	s, _ := newGateServer(t)
	ctx := context.Background()

	_, err := s.DoPut(ctx, mustStruct(t, map[string]any{
		"descriptor": map[string]any{"command": "ecoli/b"},
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.DoPut(ctx, mustStruct(t, map[string]any{
		"descriptor":  map[string]any{"command": "ecoli/b"},
		"payload_b64": "!!not-base64!!",
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestListFlightsAndFlightInfo(t *testing.T) {
	s, reg := newGateServer(t)
	ctx := context.Background()
	reg.PutTable("ecoli", "b", types.NewTable("b", types.NewFloat64Column("value", []float64{1})))

	listResp, err := s.ListFlights(ctx, &structpb.Struct{})
	require.NoError(t, err)
	flights := listResp.GetFields()["flights"].GetListValue().GetValues()
	require.Len(t, flights, 1)
	assert.Equal(t, "ecoli", flights[0].GetStructValue().GetFields()["schema"].GetStringValue())

	infoResp, err := s.GetFlightInfo(ctx, mustStruct(t, map[string]any{
		"descriptor": map[string]any{"path": []any{"ecoli", "b"}},
	}))
	require.NoError(t, err)
	info := infoResp.GetFields()["info"].GetStructValue()
	assert.Equal(t, "b", info.GetFields()["table"].GetStringValue())
}

func TestUnaryAuthInterceptor(t *testing.T) {
	store, err := auth.OpenUserStore(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.AddUser(context.Background(), auth.User{Username: "alice"}, "s3cret"))

	interceptor := UnaryAuthInterceptor(auth.NewAuthenticator(store))
	var handlerCalls int
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		handlerCalls++
		return "ok", nil
	}
	putInfo := &grpclib.UnaryServerInfo{FullMethod: "/" + ServiceName + "/DoPut"}
	getInfo := &grpclib.UnaryServerInfo{FullMethod: "/" + ServiceName + "/DoGet"}
	actionInfo := &grpclib.UnaryServerInfo{FullMethod: "/" + ServiceName + "/DoAction"}

	// A gated verb without credentials never reaches the handler.
	_, err = interceptor(context.Background(), &structpb.Struct{}, putInfo, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Zero(t, handlerCalls)

	// An open verb passes through untouched.
	_, err = interceptor(context.Background(), &structpb.Struct{}, getInfo, handler)
	require.NoError(t, err)
	assert.Equal(t, 1, handlerCalls)

	// Valid basic credentials unlock the gated verb.
	creds := base64.StdEncoding.EncodeToString([]byte("alice:s3cret"))
	authed := metadata.NewIncomingContext(context.Background(),
		metadata.Pairs(authorizationKey, "Basic "+creds))
	_, err = interceptor(authed, &structpb.Struct{}, putInfo, handler)
	require.NoError(t, err)
	assert.Equal(t, 2, handlerCalls)

	// DoAction's requirement follows the action named in the request body.
	open := mustStruct(t, map[string]any{"action": gate.ActionListActions})
	_, err = interceptor(context.Background(), open, actionInfo, handler)
	require.NoError(t, err)

	gated := mustStruct(t, map[string]any{"action": gate.ActionShutdown})
	_, err = interceptor(context.Background(), gated, actionInfo, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Fully-qualified method names.
const (
	DocumentStoreService = "chatsync.v1.DocumentStore"
	AccountsService      = "chatsync.v1.Accounts"
	PresenceService      = "chatsync.v1.Presence"

	MethodGet        = "/" + DocumentStoreService + "/Get"
	MethodBatchWrite = "/" + DocumentStoreService + "/BatchWrite"
	MethodQuery      = "/" + DocumentStoreService + "/Query"
	MethodSubscribe  = "/" + DocumentStoreService + "/Subscribe"
	MethodSignUp     = "/" + AccountsService + "/SignUp"
	MethodSignIn     = "/" + AccountsService + "/SignIn"
	MethodHeartbeat  = "/" + PresenceService + "/Heartbeat"
)

// DocumentStoreServer serves the Document Store contract.
type DocumentStoreServer interface {
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BatchWrite(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

// AccountsServer serves sign-up and sign-in.
type AccountsServer interface {
	SignUp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// PresenceServer renews presence leases.
type PresenceServer interface {
	Heartbeat(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unary[S any](method string, call func(S, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DocumentStoreServer).Subscribe(in, stream)
}

var DocumentStoreDesc = grpc.ServiceDesc{
	ServiceName: DocumentStoreService,
	HandlerType: (*DocumentStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: unary(MethodGet, DocumentStoreServer.Get)},
		{MethodName: "BatchWrite", Handler: unary(MethodBatchWrite, DocumentStoreServer.BatchWrite)},
		{MethodName: "Query", Handler: unary(MethodQuery, DocumentStoreServer.Query)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "chatsync/v1/docstore",
}

var AccountsDesc = grpc.ServiceDesc{
	ServiceName: AccountsService,
	HandlerType: (*AccountsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SignUp", Handler: unary(MethodSignUp, AccountsServer.SignUp)},
		{MethodName: "SignIn", Handler: unary(MethodSignIn, AccountsServer.SignIn)},
	},
	Metadata: "chatsync/v1/accounts",
}

var PresenceDesc = grpc.ServiceDesc{
	ServiceName: PresenceService,
	HandlerType: (*PresenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Heartbeat", Handler: unary(MethodHeartbeat, PresenceServer.Heartbeat)},
	},
	Metadata: "chatsync/v1/presence",
}

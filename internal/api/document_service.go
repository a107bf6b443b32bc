package api

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/codec"
	"github.com/matheus3301/chatsync/internal/docstore"
)

// DocumentService exposes a docstore.Store to remote clients. The accounts
// collection is never reachable through it.
type DocumentService struct {
	store  docstore.Store
	logger *zap.Logger
}

func NewDocumentService(store docstore.Store, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{store: store, logger: logger}
}

func guard(path string) error {
	if path == codec.Accounts || strings.HasPrefix(path, codec.Accounts+"/") {
		return grpcstatus.Errorf(codes.PermissionDenied, "%s is not accessible", path)
	}
	return nil
}

func (s *DocumentService) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	path, _ := in.AsMap()["path"].(string)
	if err := guard(path); err != nil {
		return nil, err
	}
	d, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, ToStatus(err)
	}
	return EncodeDocs([]docstore.Document{d})
}

func (s *DocumentService) BatchWrite(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ops, err := DecodeOps(in)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	for _, op := range ops {
		if err := guard(op.Path); err != nil {
			return nil, err
		}
	}
	if err := s.store.BatchWrite(ctx, ops); err != nil {
		return nil, ToStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *DocumentService) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	q := DecodeQuery(in)
	if err := guard(q.Collection); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	docs, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, ToStatus(err)
	}
	return EncodeDocs(docs)
}

// Subscribe streams snapshots until the client goes away. A failed snapshot
// is sent as {"error": ...} and the stream stays open.
func (s *DocumentService) Subscribe(in *structpb.Struct, stream grpc.ServerStream) error {
	t := DecodeTarget(in)
	if err := guard(t.Collection()); err != nil {
		return err
	}
	ctx := stream.Context()

	snaps := make(chan docstore.Snapshot, 1)
	dispose, err := s.store.Subscribe(ctx, t, func(snap docstore.Snapshot) {
		// keep only the latest pending snapshot
		for {
			select {
			case snaps <- snap:
				return
			default:
			}
			select {
			case <-snaps:
			default:
			}
		}
	})
	if err != nil {
		return ToStatus(err)
	}
	defer dispose()

	uid, _ := UserID(ctx)
	s.logger.Debug("subscription opened", zap.String("uid", uid), zap.String("target", t.Key()))
	defer s.logger.Debug("subscription closed", zap.String("uid", uid), zap.String("target", t.Key()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-snaps:
			var out *structpb.Struct
			if snap.Err != nil {
				out, err = structpb.NewStruct(map[string]any{"error": snap.Err.Error()})
			} else {
				out, err = EncodeDocs(snap.Docs)
			}
			if err != nil {
				return grpcstatus.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
	}
}

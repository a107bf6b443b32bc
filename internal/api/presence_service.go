package api

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// LeaseRenewer extends a user's presence lease.
type LeaseRenewer interface {
	Renew(ctx context.Context, uid string, ttl time.Duration) error
}

// PresenceLeaseService lets signed-in clients renew their own lease.
type PresenceLeaseService struct {
	leases LeaseRenewer
	maxTTL time.Duration
}

func NewPresenceLeaseService(leases LeaseRenewer, maxTTL time.Duration) *PresenceLeaseService {
	return &PresenceLeaseService{leases: leases, maxTTL: maxTTL}
}

func (s *PresenceLeaseService) Heartbeat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, ok := UserID(ctx)
	if !ok {
		return nil, grpcstatus.Error(codes.Unauthenticated, "heartbeat needs a signed-in user")
	}
	secs, _ := in.AsMap()["ttlSeconds"].(float64)
	ttl := time.Duration(secs * float64(time.Second))
	if ttl <= 0 || ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	if err := s.leases.Renew(ctx, uid, ttl); err != nil {
		return nil, ToStatus(err)
	}
	return &structpb.Struct{}, nil
}

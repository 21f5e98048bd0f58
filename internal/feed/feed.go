// Package feed serves live appointment snapshots over a gRPC server stream.
// Messages are well-known protobuf types so no generated code is needed:
// the request is google.protobuf.Empty and every snapshot is a
// google.protobuf.Struct.
package feed

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"appointment-sync/internal/middleware"
	"appointment-sync/internal/model"
)

const (
	ServiceName = "bookingsync.v1.AppointmentFeed"
	WatchMethod = "/" + ServiceName + "/Watch"
)

type FeedServer interface {
	Watch(*emptypb.Empty, grpc.ServerStream) error
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "bookingsync/v1/feed.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(FeedServer).Watch(in, stream)
}

type Subscriber interface {
	Subscribe(ctx context.Context, userID string, fn func([]model.Appointment)) (func(), error)
}

type Server struct {
	dist   Subscriber
	logger zerolog.Logger
}

func NewServer(dist Subscriber, logger zerolog.Logger) *Server {
	return &Server{dist: dist, logger: logger.With().Str("component", "feed").Logger()}
}

// Watch sends the caller's full list on connect and after every change.
// A slow client only ever gets the newest snapshot.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	uid := middleware.UserID(ctx)
	if uid == "" {
		return status.Error(codes.Unauthenticated, "no user")
	}

	latest := make(chan []model.Appointment, 1)
	stop, err := s.dist.Subscribe(ctx, uid, func(list []model.Appointment) {
		select {
		case <-latest:
		default:
		}
		latest <- list
	})
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	defer stop()
	s.logger.Debug().Str("user_id", uid).Msg("watch opened")

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Str("user_id", uid).Msg("watch closed")
			return nil
		case list := <-latest:
			msg, err := Snapshot(uid, list)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// Snapshot renders a list as {"user_id": ..., "appointments": [...]}.
func Snapshot(userID string, list []model.Appointment) (*structpb.Struct, error) {
	items := make([]any, 0, len(list))
	for _, a := range list {
		items = append(items, map[string]any{
			"id":            a.ID,
			"event_uri":     a.EventURI,
			"event_type":    a.EventType,
			"invitee_email": a.InviteeEmail,
			"invitee_name":  a.InviteeName,
			"start_time":    a.StartTime.UTC().Format(time.RFC3339),
			"end_time":      a.EndTime.UTC().Format(time.RFC3339),
			"status":        string(a.Status),
		})
	}
	return structpb.NewStruct(map[string]any{
		"user_id":      userID,
		"appointments": items,
	})
}

// NewGRPCServer wires the feed and the standard health service behind the
// auth and rate-limit interceptors.
func NewGRPCServer(s *Server, secret string, rl *middleware.RateLimiter) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.RateLimit(rl),
			middleware.Auth(secret),
		),
		grpc.ChainStreamInterceptor(
			middleware.StreamRateLimit(rl),
			middleware.StreamAuth(secret),
		),
	)
	srv.RegisterService(&ServiceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

// Watcher is a client-side handle on an open Watch stream.
type Watcher struct {
	stream grpc.ClientStream
}

func Watch(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (*Watcher, error) {
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], WatchMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Watcher{stream: stream}, nil
}

func (w *Watcher) Recv() (*structpb.Struct, error) {
	msg := new(structpb.Struct)
	if err := w.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

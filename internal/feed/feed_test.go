package feed_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"appointment-sync/internal/auth"
	"appointment-sync/internal/distributor"
	"appointment-sync/internal/feed"
	"appointment-sync/internal/middleware"
	"appointment-sync/internal/model"
	"appointment-sync/internal/notify"
	"appointment-sync/internal/reconcile"
	"appointment-sync/internal/store"
)

const secret = "test-secret"

type env struct {
	conn *grpc.ClientConn
	rec  *reconcile.Reconciler
}

func setup(t *testing.T) *env {
	t.Helper()
	hub := notify.NewHub()
	st := store.NewMemory()
	dist := distributor.New(hub, st, nil, zerolog.Nop())
	rl := middleware.NewRateLimiter(100, 100)
	t.Cleanup(rl.Close)

	srv := feed.NewGRPCServer(feed.NewServer(dist, zerolog.Nop()), secret, rl)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &env{conn: conn, rec: reconcile.New(st, hub, zerolog.Nop())}
}

func authed(t *testing.T, uid string) context.Context {
	t.Helper()
	tok, err := auth.MakeToken(uid, secret)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
}

func TestWatchStreamsSnapshots(t *testing.T) {
	e := setup(t)
	w, err := feed.Watch(authed(t, "u1"), e.conn)
	require.NoError(t, err)

	first, err := w.Recv()
	require.NoError(t, err)
	assert.Equal(t, "u1", first.Fields["user_id"].GetStringValue())
	assert.Empty(t, first.Fields["appointments"].GetListValue().GetValues())

	start := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	_, err = e.rec.Reconcile(context.Background(), model.Appointment{
		UserID: "u1", EventURI: "e1", StartTime: start, EndTime: start.Add(time.Hour), Status: model.StatusBooked,
	})
	require.NoError(t, err)

	next, err := w.Recv()
	require.NoError(t, err)
	items := next.Fields["appointments"].GetListValue().GetValues()
	require.Len(t, items, 1)
	item := items[0].GetStructValue().Fields
	assert.Equal(t, "e1", item["event_uri"].GetStringValue())
	assert.Equal(t, "booked", item["status"].GetStringValue())
	assert.Equal(t, "2026-07-01T10:00:00Z", item["start_time"].GetStringValue())
}

func TestWatchRequiresToken(t *testing.T) {
	e := setup(t)
	w, err := feed.Watch(context.Background(), e.conn)
	if err == nil {
		_, err = w.Recv()
	}
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestHealthIsOpen(t *testing.T) {
	e := setup(t)
	resp, err := healthpb.NewHealthClient(e.conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: feed.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

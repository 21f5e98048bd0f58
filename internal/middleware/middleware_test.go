package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"appointment-sync/internal/auth"
	"appointment-sync/internal/middleware"
)

const secret = "test-secret"

func TestBearerMiddleware(t *testing.T) {
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		return c.String(http.StatusOK, middleware.UserID(c.Request().Context()))
	}, middleware.Bearer(secret))

	tok, err := auth.MakeToken("user-42", secret)
	require.NoError(t, err)

	cases := []struct {
		name   string
		target string
		header string
		code   int
		body   string
	}{
		{"header", "/me", "Bearer " + tok, http.StatusOK, "user-42"},
		{"query", "/me?access_token=" + tok, "", http.StatusOK, "user-42"},
		{"missing", "/me", "", http.StatusUnauthorized, ""},
		{"garbage", "/me", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tc.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestEchoRateLimit(t *testing.T) {
	rl := middleware.NewRateLimiter(0.001, 2)
	t.Cleanup(rl.Close)
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, middleware.EchoRateLimit(rl))

	got := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		got = append(got, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, got)
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

func TestStreamAuth(t *testing.T) {
	interceptor := middleware.StreamAuth(secret)
	info := &grpc.StreamServerInfo{FullMethod: "/bookingsync.v1.AppointmentFeed/Watch"}
	tok, err := auth.MakeToken("user-42", secret)
	require.NoError(t, err)

	var seen string
	handler := func(_ any, ss grpc.ServerStream) error {
		seen = middleware.UserID(ss.Context())
		return nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+tok))
	require.NoError(t, interceptor(nil, fakeStream{ctx: ctx}, info, handler))
	assert.Equal(t, "user-42", seen)

	err = interceptor(nil, fakeStream{ctx: metadata.NewIncomingContext(context.Background(), metadata.MD{})}, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	open := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}
	assert.NoError(t, interceptor(nil, fakeStream{ctx: context.Background()}, open, handler))
}

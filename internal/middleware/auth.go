package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"appointment-sync/internal/auth"
)

type ctxKey string

const UserIDKey ctxKey = "uid"

// skip auth for these
var open = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
}

// UserID returns the authenticated user stored by the auth middleware.
func UserID(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func authenticate(ctx context.Context, secret string) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	// token from Authorization: Bearer <jwt>
	raw := ""
	if vals := md.Get("authorization"); len(vals) > 0 {
		raw = auth.BearerToken(vals[0])
	}
	if raw == "" {
		return nil, status.Error(codes.Unauthenticated, "no token")
	}

	claims, err := auth.ParseToken(raw, secret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "bad token")
	}
	return context.WithValue(ctx, UserIDKey, claims.UserID), nil
}

func Auth(secret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if open[info.FullMethod] {
			return next(ctx, req)
		}
		ctx, err := authenticate(ctx, secret)
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func StreamAuth(secret string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if open[info.FullMethod] {
			return next(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), secret)
		if err != nil {
			return err
		}
		return next(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

// Bearer is the echo counterpart: it rejects requests without a valid
// token and puts the user id on both the echo and request contexts.
func Bearer(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if raw == "" {
				// EventSource can't set headers
				raw = c.QueryParam("access_token")
			}
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "no token")
			}
			claims, err := auth.ParseToken(raw, secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "bad token")
			}
			c.Set(string(UserIDKey), claims.UserID)
			req := c.Request()
			c.SetRequest(req.WithContext(context.WithValue(req.Context(), UserIDKey, claims.UserID)))
			return next(c)
		}
	}
}

package api

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/quizarena/royale/internal/errors"
)

type callerKey struct{}

// CallerFrom returns the authenticated user of the request, or "" when authentication is off.
func CallerFrom(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller
}

func withCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Authenticator verifies HS256 bearer tokens; the subject claim identifies the caller.
// A nil Authenticator accepts every request anonymously.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns nil for an empty secret.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate checks an Authorization header value and returns ctx carrying the caller.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (context.Context, error) {
	if a == nil {
		return ctx, nil
	}

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing bearer token"))
	}

	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid token"), errors.WithCause(err))
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token has no subject"))
	}

	return withCaller(ctx, sub), nil
}

// HTTPMiddleware authenticates gin requests from the Authorization header.
func (a *Authenticator) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := a.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UnaryServerInterceptor authenticates gRPC calls from the authorization metadata.
func (a *Authenticator) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("authorization"); len(v) > 0 {
				header = v[0]
			}
		}

		ctx, err := a.Authenticate(ctx, header)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

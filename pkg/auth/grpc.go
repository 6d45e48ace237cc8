package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

// metadataAuthorization is the gRPC metadata key for the bearer token.
// Metadata keys are always lowercase.
const metadataAuthorization = "authorization"

// UnaryServerInterceptor returns a unary interceptor that validates the
// bearer token in the "authorization" metadata and stores the [Identity] in
// the handler context.
//
// Rejected tokens produce codes.Unauthenticated; an unreachable key source
// produces codes.Unavailable. Status messages carry only the category text.
func UnaryServerInterceptor(validator TokenValidator) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, validator)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// [UnaryServerInterceptor].
func StreamServerInterceptor(validator TokenValidator) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), validator)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func authenticateGRPC(ctx context.Context, validator TokenValidator) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get(metadataAuthorization)
	if len(values) == 0 {
		return ctx, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	token := ExtractBearerToken(values[0])
	if token == "" {
		return ctx, status.Error(codes.Unauthenticated, "invalid authorization format")
	}

	identity, err := validator.Validate(ctx, token)
	if err != nil {
		e := sserr.FromError(err)
		if sserr.IsUnavailable(e) || sserr.IsTimeout(e) {
			return ctx, status.Error(codes.Unavailable, e.Public())
		}
		_, msg := rejection(e)
		return ctx, status.Error(codes.Unauthenticated, msg)
	}
	return ContextWithIdentity(ctx, identity), nil
}

// wrappedServerStream overrides Context so stream handlers see the identity.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

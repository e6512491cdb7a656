package api

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tskvio/tskv/pkg/log"
)

// LoggingInterceptor logs and times every unary RPC the server handles,
// tagging slow calls the same way pkg/coordinator flags slow remote
// writes.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		begin := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(begin)

		method := methodName(info.FullMethod)
		if err != nil {
			log.Error("rpc " + method + " failed after " + elapsed.String() + ": " + err.Error())
		} else if elapsed > 200*time.Millisecond {
			log.Debug("rpc " + method + " took " + elapsed.String() + ", exceeding slow-call threshold")
		}
		return resp, err
	}
}

// UnixSocketReadOnlyInterceptor restricts a listener (meant for local
// CLI access) to read-only RPCs.
func UnixSocketReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(codes.PermissionDenied,
				"write operations not allowed on this listener - use the TCP listener")
		}
		return handler(ctx, req)
	}
}

func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}

func isReadOnlyMethod(fullMethod string) bool {
	switch methodName(fullMethod) {
	case "GetVnodeSnapFilesMeta":
		return true
	default:
		return false
	}
}

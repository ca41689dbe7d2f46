package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Health dials the agent and asks the standard gRPC health service about the
// VoiceAgent service. An agent without a health service counts as reachable.
func Health(ctx context.Context, cfg Config) (string, error) {
	conn, err := Dial(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	checkCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout+defaultDialTimeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		switch status.Code(err) {
		case codes.Unimplemented:
			return "reachable (no health service)", nil
		case codes.NotFound:
			return "", fmt.Errorf("health service does not know %s", ServiceName)
		}
		return "", fmt.Errorf("health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return "", fmt.Errorf("agent is %s", resp.GetStatus())
	}
	return "serving", nil
}

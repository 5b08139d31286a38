package stt

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// GRPCProbe checks endpoints that expose the standard grpc.health.v1 service
type GRPCProbe struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
	timeout time.Duration
}

// NewGRPCProbe creates a probe for target. The connection is established
// lazily on the first Check. Extra dial options (e.g. a custom dialer or TLS
// credentials) are appended after the defaults.
func NewGRPCProbe(target, service string, timeout time.Duration, opts ...grpc.DialOption) (*GRPCProbe, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		// Keepalive settings for long-lived connections
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create health client for %s: %w", target, err)
	}

	return &GRPCProbe{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: service,
		timeout: timeout,
	}, nil
}

// Check returns true iff the service reports SERVING within the timeout
func (p *GRPCProbe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Close closes the gRPC connection
func (p *GRPCProbe) Close() error {
	return p.conn.Close()
}

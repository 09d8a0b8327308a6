package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/lumi/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ExecutePromptMethod is the unary method served by the inference sidecar.
// Request and response are google.protobuf.StringValue.
const ExecutePromptMethod = "/lumi.inference.v1.Model/ExecutePrompt"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcModel executes prompts on a remote inference sidecar.
type GrpcModel struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// GrpcModelConfig holds configuration for the gRPC model client.
type GrpcModelConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcModelConfig returns default configuration for addr.
func DefaultGrpcModelConfig(addr string) GrpcModelConfig {
	return GrpcModelConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcModel connects to the sidecar and waits until the channel is ready.
func NewGrpcModel(cfg GrpcModelConfig, logger *slog.Logger) (*GrpcModel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("inference address is required: %w", domain.ErrModelUnavailable)
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("create inference client for %s: %w: %w", cfg.Address, domain.ErrModelUnavailable, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("inference service at %s not ready: %w: %w", cfg.Address, domain.ErrModelUnavailable, err)
	}

	logger.Info("Connected to inference service", "address", cfg.Address)

	return &GrpcModel{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// ExecutePrompt performs one unary call.
func (g *GrpcModel) ExecutePrompt(ctx context.Context, prompt string) (string, error) {
	out := new(wrapperspb.StringValue)
	err := g.conn.Invoke(ctx, ExecutePromptMethod, wrapperspb.String(prompt), out)
	if err != nil {
		return "", classifyGrpcError(g.addr, err)
	}
	text := strings.TrimSpace(out.GetValue())
	if text == "" {
		return "", fmt.Errorf("inference service returned no text: %w", domain.ErrModelExecution)
	}
	return text, nil
}

func classifyGrpcError(addr string, err error) error {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return fmt.Errorf("inference at %s: %w", addr, context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("inference at %s: %w", addr, context.Canceled)
	case codes.Unavailable, codes.Unimplemented, codes.FailedPrecondition:
		return fmt.Errorf("inference at %s: %w: %w", addr, domain.ErrModelUnavailable, err)
	default:
		return fmt.Errorf("inference at %s: %w: %w", addr, domain.ErrModelExecution, err)
	}
}

// Health reports whether the sidecar's health service is SERVING.
func (g *GrpcModel) Health(ctx context.Context) error {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("inference service status %s: %w", resp.GetStatus(), domain.ErrModelUnavailable)
	}
	return nil
}

// Name implements LanguageModel.
func (g *GrpcModel) Name() string { return "grpc:" + g.addr }

// Close closes the gRPC connection.
func (g *GrpcModel) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

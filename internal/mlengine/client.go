package mlengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/jag18729/guard-quote-sub000/internal/config"
	"github.com/jag18729/guard-quote-sub000/internal/models"
)

// FailureReason classifies why a remote call did not produce a result
type FailureReason string

const (
	ReasonNotInitialized FailureReason = "not_initialized"
	ReasonTimeout        FailureReason = "timeout"
	ReasonTransport      FailureReason = "transport"
	ReasonMalformed      FailureReason = "malformed"
)

// RemoteError wraps a failed ML engine call with its failure class so
// the fallback coordinator can log the cause without string matching.
type RemoteError struct {
	Reason FailureReason
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ml engine unavailable: %s", e.Reason)
	}
	return fmt.Sprintf("ml engine unavailable (%s): %v", e.Reason, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Reason extracts the failure class from an error chain, defaulting to
// transport for unclassified errors.
func Reason(err error) FailureReason {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonTransport
}

// Client calls the ML engine over a single long-lived gRPC channel
// opened at startup. Every call carries a deadline; any failure flips
// the shared status cell to disconnected.
type Client struct {
	conn    *grpc.ClientConn
	status  *Status
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient establishes the channel descriptor to the ML engine. The
// dial is non-blocking; connectivity problems surface per call. If the
// channel cannot be created at all the client degrades to
// permanently-unavailable mode instead of failing startup, since the
// formula engine can still serve quotes.
func NewClient(cfg config.MLEngineConfig, logger *zap.Logger) *Client {
	client := &Client{
		status:  NewStatus(cfg.Addr()),
		timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		logger:  logger,
	}

	conn, err := grpc.Dial(
		cfg.Addr(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		logger.Warn("ML engine channel could not be created, remote pricing disabled",
			zap.String("target", cfg.Addr()),
			zap.Error(err))
		return client
	}

	client.conn = conn
	logger.Info("ML engine client initialized", zap.String("target", cfg.Addr()))
	return client
}

// Ready reports whether the channel descriptor was established
func (c *Client) Ready() bool {
	return c != nil && c.conn != nil
}

// Status returns a snapshot of last-known engine reachability
func (c *Client) Status() StatusSnapshot {
	return c.status.Snapshot()
}

// GenerateQuote requests a quote from the ML engine. It returns a
// *RemoteError on any failure so callers can fall back locally.
func (c *Client) GenerateQuote(ctx context.Context, in models.NormalizedInput) (*models.QuoteResult, error) {
	if !c.Ready() {
		return nil, &RemoteError{Reason: ReasonNotInitialized}
	}

	req := &QuoteRequest{
		EventType:       wireEventType(in.EventType),
		LocationZip:     in.LocationZip,
		NumGuards:       int32(in.NumGuards),
		Hours:           int32(in.Hours),
		EventDate:       Timestamp{Seconds: in.EventDate.Unix()},
		IsArmed:         in.IsArmed,
		RequiresVehicle: in.RequiresVehicle,
		CrowdSize:       int32(in.CrowdSize),
		RequestID:       "req_" + uuid.NewString(),
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp QuoteResponse
	if err := c.conn.Invoke(callCtx, generateQuoteMethod, req, &resp); err != nil {
		c.status.RecordFailure()
		return nil, classify(err)
	}

	c.status.RecordSuccess()
	return c.toResult(in, &resp), nil
}

// Ping performs the out-of-band health check with the same timeout
// discipline as quote calls.
func (c *Client) Ping(ctx context.Context) (*HealthResponse, error) {
	if !c.Ready() {
		return nil, &RemoteError{Reason: ReasonNotInitialized}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp HealthResponse
	if err := c.conn.Invoke(callCtx, healthCheckMethod, &HealthRequest{}, &resp); err != nil {
		c.status.RecordFailure()
		return nil, classify(err)
	}

	c.status.RecordSuccess()
	return &resp, nil
}

// Close tears down the channel descriptor
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// toResult maps the wire response to the internal quote schema.
// Numeric fields are parsed defensively: monetary fields default to 0
// and multipliers to 1.0 rather than propagating a parse error.
func (c *Client) toResult(in models.NormalizedInput, resp *QuoteResponse) *models.QuoteResult {
	breakdown := models.QuoteBreakdown{
		ModelUsed:   "ml-grpc",
		RiskFactors: []string{},
		NumGuards:   in.NumGuards,
		Hours:       in.Hours,
		IsArmed:     in.IsArmed,
		HasVehicle:  in.RequiresVehicle,
	}
	if resp.Breakdown != nil {
		if resp.Breakdown.ModelUsed != "" {
			breakdown.ModelUsed = resp.Breakdown.ModelUsed
		}
		if resp.Breakdown.RiskFactors != nil {
			breakdown.RiskFactors = resp.Breakdown.RiskFactors
		}
		if resp.Breakdown.NumGuards != nil {
			breakdown.NumGuards = *resp.Breakdown.NumGuards
		}
		if resp.Breakdown.Hours != nil {
			breakdown.Hours = *resp.Breakdown.Hours
		}
		if resp.Breakdown.IsArmed != nil {
			breakdown.IsArmed = *resp.Breakdown.IsArmed
		}
		if resp.Breakdown.HasVehicle != nil {
			breakdown.HasVehicle = *resp.Breakdown.HasVehicle
		}
	}

	return &models.QuoteResult{
		BasePrice:       asFloat(resp.BasePrice, 0),
		RiskMultiplier:  asFloat(resp.RiskMultiplier, 1.0),
		FinalPrice:      asFloat(resp.FinalPrice, 0),
		RiskLevel:       asRiskLevel(resp.RiskLevel),
		ConfidenceScore: asFloat(resp.ConfidenceScore, 0.75),
		Breakdown:       breakdown,
	}
}

// classify sorts a call error into the failure taxonomy: deadline
// expiry, transport trouble, or a response the codec could not decode.
func classify(err error) *RemoteError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &RemoteError{Reason: ReasonTimeout, Err: err}
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return &RemoteError{Reason: ReasonTimeout, Err: err}
		case codes.Internal, codes.InvalidArgument, codes.Unimplemented, codes.ResourceExhausted:
			return &RemoteError{Reason: ReasonMalformed, Err: err}
		}
	}
	return &RemoteError{Reason: ReasonTransport, Err: err}
}

package pricing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jag18729/guard-quote-sub000/internal/mlengine"
	"github.com/jag18729/guard-quote-sub000/internal/models"
	"github.com/jag18729/guard-quote-sub000/internal/monitoring"
	"github.com/jag18729/guard-quote-sub000/internal/reference"
)

// RemoteEngine is the remote inference dependency of the calculator.
// *mlengine.Client satisfies it; tests substitute scripted fakes.
type RemoteEngine interface {
	GenerateQuote(ctx context.Context, in models.NormalizedInput) (*models.QuoteResult, error)
	Ready() bool
}

// Calculator is the fallback coordinator: try the ML engine, and on
// any failure compute locally. It always produces a result; remote
// degradation is invisible to callers beyond the breakdown tag.
type Calculator struct {
	remote RemoteEngine
	refs   reference.Gateway
	logger *zap.Logger
}

// NewCalculator wires the coordinator. remote may be nil when the
// engine channel could not be created at startup.
func NewCalculator(remote RemoteEngine, refs reference.Gateway, logger *zap.Logger) *Calculator {
	return &Calculator{
		remote: remote,
		refs:   refs,
		logger: logger,
	}
}

// Quote normalizes raw input and computes a price
func (c *Calculator) Quote(ctx context.Context, raw models.QuoteInput) *models.QuoteResult {
	return c.QuoteNormalized(ctx, raw.Normalize(time.Now()))
}

// QuoteNormalized computes a price for already-normalized input
func (c *Calculator) QuoteNormalized(ctx context.Context, in models.NormalizedInput) *models.QuoteResult {
	start := time.Now()

	if c.remote != nil && c.remote.Ready() {
		result, err := c.remote.GenerateQuote(ctx, in)
		if err == nil {
			monitoring.QuotesTotal.WithLabelValues("ml").Inc()
			monitoring.QuoteDuration.WithLabelValues("ml").Observe(time.Since(start).Seconds())
			return c.enrichRemote(in, result)
		}

		reason := mlengine.Reason(err)
		monitoring.FallbacksTotal.WithLabelValues(string(reason)).Inc()
		c.logger.Warn("ML engine unavailable, using formula engine",
			zap.String("reason", string(reason)),
			zap.String("event_type", in.EventType),
			zap.Error(err))
	}

	result := c.computeLocal(ctx, in)
	monitoring.QuotesTotal.WithLabelValues(FormulaModelName).Inc()
	monitoring.QuoteDuration.WithLabelValues(FormulaModelName).Observe(time.Since(start).Seconds())
	return result
}

// enrichRemote fills in the request context the wire response omits
func (c *Calculator) enrichRemote(in models.NormalizedInput, result *models.QuoteResult) *models.QuoteResult {
	result.Breakdown.Location = in.LocationZip
	result.Breakdown.EventType = in.EventType
	if result.RiskAssessment == nil {
		result.RiskAssessment = &models.RiskAssessment{
			RiskLevel:       result.RiskLevel,
			RiskScore:       round2(result.RiskMultiplier - 1),
			Factors:         result.Breakdown.RiskFactors,
			Recommendations: []string{},
		}
	}
	return result
}

// computeLocal runs the formula engine against freshly fetched
// reference data. Missing rows and gateway errors degrade to the
// documented default records so a quote is always produced.
func (c *Calculator) computeLocal(ctx context.Context, in models.NormalizedInput) *models.QuoteResult {
	event, err := c.refs.GetEventType(ctx, in.EventType)
	if err != nil {
		if !errors.Is(err, reference.ErrNotFound) {
			c.logger.Warn("event type lookup failed, using defaults",
				zap.String("code", in.EventType), zap.Error(err))
		}
		event = reference.DefaultEventType(in.EventType)
	}

	loc, err := c.refs.GetLocation(ctx, in.LocationZip)
	if err != nil {
		if !errors.Is(err, reference.ErrNotFound) {
			c.logger.Warn("location lookup failed, using defaults",
				zap.String("zip", in.LocationZip), zap.Error(err))
		}
		loc = reference.DefaultLocation(in.LocationZip)
	}

	samples, err := c.refs.HistoricalSampleCount(ctx, in.EventType, in.NumGuards)
	if err != nil {
		c.logger.Warn("historical sample count failed, confidence floor applies", zap.Error(err))
		samples = 0
	}

	return ComputeQuote(in, event, loc, samples)
}

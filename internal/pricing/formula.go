package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/jag18729/guard-quote-sub000/internal/models"
	"github.com/jag18729/guard-quote-sub000/internal/reference"
)

// FormulaModelName tags results produced by the local formula engine
const FormulaModelName = "formula"

// Hand-tuned pricing heuristics. The thresholds and weights were
// calibrated against historical booking data; treat them as product
// constants, not derivable quantities.
const (
	armedPremiumPerGuardHour = 15.0
	vehiclePremiumPerGuard   = 50.0

	weekendMultiplier = 1.15
	nightMultiplier   = 1.20

	baseRiskScore        = 0.25
	eventRiskWeight      = 0.30
	locationRiskWeight   = 0.15
	nightRiskContrib     = 0.10
	weekendRiskContrib   = 0.05
	crowdRiskWeight      = 0.40
	riskPriceSensitivity = 0.50
)

// highActivityEvents are event categories with elevated incident rates
var highActivityEvents = map[string]bool{
	"concert":   true,
	"sports":    true,
	"festival":  true,
	"nightclub": true,
}

// crowdFactor is the step function over expected attendance
func crowdFactor(crowdSize int) float64 {
	switch {
	case crowdSize > 5000:
		return 1.35
	case crowdSize > 2000:
		return 1.25
	case crowdSize > 1000:
		return 1.15
	case crowdSize > 500:
		return 1.08
	default:
		return 1.0
	}
}

// confidenceScore maps the historical sample count in the matching
// band to a confidence value.
func confidenceScore(samples int64) float64 {
	switch {
	case samples >= 10:
		return 0.92
	case samples >= 5:
		return 0.85
	case samples >= 1:
		return 0.78
	default:
		return 0.70
	}
}

// riskLevelFor maps a normalized risk score onto the ordinal levels
func riskLevelFor(score float64) models.RiskLevel {
	switch {
	case score >= 0.75:
		return models.RiskLevelCritical
	case score >= 0.50:
		return models.RiskLevelHigh
	case score >= 0.25:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// ComputeQuote prices an event deterministically from normalized input
// and reference data. It never fails on business conditions: callers
// substitute default records when a reference row is missing.
func ComputeQuote(in models.NormalizedInput, event reference.EventTypeRecord, loc reference.LocationRecord, samples int64) *models.QuoteResult {
	isWeekend := in.EventDate.Weekday() == time.Saturday || in.EventDate.Weekday() == time.Sunday
	hour := in.EventDate.Hour()
	isNightShift := hour >= 18 || hour < 6

	baseLaborCost := float64(in.NumGuards*in.Hours) * event.BaseRate

	var armedPremium, vehiclePremium float64
	if in.IsArmed {
		armedPremium = armedPremiumPerGuardHour * float64(in.Hours*in.NumGuards)
	}
	if in.RequiresVehicle {
		vehiclePremium = vehiclePremiumPerGuard * float64(in.NumGuards)
	}

	timeMultiplier := 1.0
	if isWeekend {
		timeMultiplier *= weekendMultiplier
	}
	if isNightShift {
		timeMultiplier *= nightMultiplier
	}
	crowd := crowdFactor(in.CrowdSize)

	riskScore := baseRiskScore
	riskScore += (event.RiskMultiplier - 1) * eventRiskWeight
	riskScore += (loc.RateModifier - 1) * locationRiskWeight
	if isNightShift {
		riskScore += nightRiskContrib
	}
	if isWeekend {
		riskScore += weekendRiskContrib
	}
	riskScore += (crowd - 1) * crowdRiskWeight
	riskScore = math.Min(1, math.Max(0, riskScore))

	riskLevel := riskLevelFor(riskScore)

	basePrice := baseLaborCost + armedPremium + vehiclePremium
	riskMultiplier := 1 + riskScore*riskPriceSensitivity
	finalPrice := round2(basePrice * event.RiskMultiplier * loc.RateModifier * timeMultiplier * crowd)

	factors := riskFactors(in, loc, isWeekend, isNightShift)
	recommendations := recommendations(in, riskScore, isNightShift)

	return &models.QuoteResult{
		BasePrice:       round2(basePrice),
		RiskMultiplier:  round2(riskMultiplier),
		FinalPrice:      finalPrice,
		RiskLevel:       riskLevel,
		ConfidenceScore: confidenceScore(samples),
		Breakdown: models.QuoteBreakdown{
			ModelUsed:          FormulaModelName,
			RiskFactors:        factors,
			NumGuards:          in.NumGuards,
			Hours:              in.Hours,
			IsArmed:            in.IsArmed,
			HasVehicle:         in.RequiresVehicle,
			Location:           fmt.Sprintf("%s, %s", loc.City, loc.State),
			EventType:          in.EventType,
			BaseRate:           event.BaseRate,
			EventMultiplier:    event.RiskMultiplier,
			LocationMultiplier: loc.RateModifier,
			TimeMultiplier:     round2(timeMultiplier),
			CrowdFactor:        crowd,
		},
		RiskAssessment: &models.RiskAssessment{
			RiskLevel:       riskLevel,
			RiskScore:       round2(riskScore),
			Factors:         factors,
			Recommendations: recommendations,
		},
	}
}

// riskFactors lists the applicable findings, ordered from event
// characteristics to requested options. At least one entry is always
// present.
func riskFactors(in models.NormalizedInput, loc reference.LocationRecord, isWeekend, isNightShift bool) []string {
	var factors []string
	if highActivityEvents[in.EventType] {
		factors = append(factors, fmt.Sprintf("High-activity event: %s", in.EventType))
	}
	if in.CrowdSize > 500 {
		factors = append(factors, fmt.Sprintf("Large crowd: %d attendees", in.CrowdSize))
	}
	if isNightShift {
		factors = append(factors, "Night shift: elevated risk hours")
	}
	if isWeekend {
		factors = append(factors, "Weekend event: higher incident probability")
	}
	if loc.RiskZone == "high" || loc.RiskZone == "premium" {
		factors = append(factors, fmt.Sprintf("High-risk zone: %s, %s", loc.City, loc.State))
	}
	if in.IsArmed {
		factors = append(factors, "Armed security requested")
	}
	if len(factors) == 0 {
		factors = append(factors, "Standard risk profile")
	}
	return factors
}

func recommendations(in models.NormalizedInput, riskScore float64, isNightShift bool) []string {
	var recs []string
	if riskScore >= 0.5 && !in.IsArmed {
		recs = append(recs, "Armed security strongly recommended for this risk level")
	}
	if in.CrowdSize > 500 {
		suggested := int(math.Ceil(float64(in.CrowdSize) / 250))
		if in.NumGuards < suggested {
			recs = append(recs, fmt.Sprintf("Consider %d guards for optimal coverage (1:250 ratio)", suggested))
		}
	}
	if isNightShift && !in.RequiresVehicle {
		recs = append(recs, "Vehicle patrol recommended for night shift operations")
	}
	if in.CrowdSize > 1000 {
		recs = append(recs, "Recommend dedicated crowd management supervisor")
	}
	if riskScore < 0.25 {
		recs = append(recs, "Standard security protocols adequate")
	}
	return recs
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

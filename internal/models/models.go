package models

import (
	"strings"
	"time"
)

// RiskLevel classifies the assessed risk of an event
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// riskOrdinals orders risk levels from least to most severe
var riskOrdinals = map[RiskLevel]int{
	RiskLevelLow:      0,
	RiskLevelMedium:   1,
	RiskLevelHigh:     2,
	RiskLevelCritical: 3,
}

// Ordinal returns the severity rank of the level (low=0 .. critical=3).
// Unknown levels rank as medium.
func (r RiskLevel) Ordinal() int {
	if ord, ok := riskOrdinals[r]; ok {
		return ord
	}
	return riskOrdinals[RiskLevelMedium]
}

// Valid reports whether the level is one of the four known values
func (r RiskLevel) Valid() bool {
	_, ok := riskOrdinals[r]
	return ok
}

// QuoteInput is the raw pricing request as received over the wire.
// Both snake_case and camelCase field names are accepted because the
// public form and older API clients disagree on the convention.
type QuoteInput struct {
	EventType        string `json:"event_type,omitempty"`
	EventTypeAlt     string `json:"eventType,omitempty"`
	LocationZip      string `json:"location_zip,omitempty"`
	LocationZipAlt   string `json:"locationZip,omitempty"`
	NumGuards        int    `json:"num_guards,omitempty"`
	NumGuardsAlt     int    `json:"numGuards,omitempty"`
	Hours            int    `json:"hours,omitempty"`
	CrowdSize        int    `json:"crowd_size,omitempty"`
	CrowdSizeAlt     int    `json:"crowdSize,omitempty"`
	IsArmed          bool   `json:"is_armed,omitempty"`
	IsArmedAlt       bool   `json:"isArmed,omitempty"`
	RequiresVehicle  bool   `json:"requires_vehicle,omitempty"`
	RequiresVehAlt   bool   `json:"requiresVehicle,omitempty"`
	Date             string `json:"date,omitempty"`
	EventDate        string `json:"eventDate,omitempty"`
}

// NormalizedInput is a QuoteInput after defaulting, coercion and event
// type mapping. It is what every engine consumes.
type NormalizedInput struct {
	EventType       string
	LocationZip     string
	NumGuards       int
	Hours           int
	CrowdSize       int
	IsArmed         bool
	RequiresVehicle bool
	EventDate       time.Time
}

// Input defaults applied during normalization
const (
	DefaultEventType = "corporate"
	DefaultZipCode   = "90001"
	DefaultNumGuards = 2
	DefaultHours     = 4
)

// eventTypeCodes maps incoming event type values to the reference table
// codes. Unlisted values pass through lowercased so newly seeded codes
// work without a release.
var eventTypeCodes = map[string]string{
	"corporate":      "corporate",
	"concert":        "concert",
	"sports":         "sports",
	"private":        "private",
	"construction":   "construction",
	"retail":         "retail",
	"residential":    "residential",
	"festival":       "festival",
	"nightclub":      "nightclub",
	"gov_rally":      "gov_rally",
	"industrial":     "industrial",
	"music_festival": "music_festival",
	"retail_lp":      "retail_lp",
	"social_wedding": "social_wedding",
	"tech_summit":    "tech_summit",
	"vip_protection": "vip_protection",
}

// Normalize coerces the raw input into a NormalizedInput. Missing fields
// take documented defaults and numeric fields are clamped non-negative;
// bad input degrades to a safe request instead of being rejected.
func (q *QuoteInput) Normalize(now time.Time) NormalizedInput {
	eventType := firstNonEmpty(q.EventType, q.EventTypeAlt, DefaultEventType)
	zip := firstNonEmpty(q.LocationZip, q.LocationZipAlt, DefaultZipCode)

	guards := firstPositive(q.NumGuards, q.NumGuardsAlt, DefaultNumGuards)
	hours := q.Hours
	if hours < 1 {
		hours = DefaultHours
	}
	crowd := q.CrowdSize
	if crowd <= 0 {
		crowd = q.CrowdSizeAlt
	}
	if crowd < 0 {
		crowd = 0
	}

	eventDate := now
	if raw := firstNonEmpty(q.Date, q.EventDate, ""); raw != "" {
		if parsed, err := parseEventDate(raw); err == nil {
			eventDate = parsed
		}
	}

	code := strings.ToLower(eventType)
	if mapped, ok := eventTypeCodes[code]; ok {
		code = mapped
	}

	return NormalizedInput{
		EventType:       code,
		LocationZip:     zip,
		NumGuards:       guards,
		Hours:           hours,
		CrowdSize:       crowd,
		IsArmed:         q.IsArmed || q.IsArmedAlt,
		RequiresVehicle: q.RequiresVehicle || q.RequiresVehAlt,
		EventDate:       eventDate,
	}
}

func parseEventDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errBadDate
}

type badDateError struct{}

func (badDateError) Error() string { return "unrecognized event date format" }

var errBadDate = badDateError{}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// QuoteBreakdown identifies which engine produced a result and the
// inputs it priced against.
type QuoteBreakdown struct {
	ModelUsed          string   `json:"model_used"`
	RiskFactors        []string `json:"risk_factors"`
	NumGuards          int      `json:"num_guards"`
	Hours              int      `json:"hours"`
	IsArmed            bool     `json:"is_armed"`
	HasVehicle         bool     `json:"has_vehicle"`
	Location           string   `json:"location,omitempty"`
	EventType          string   `json:"event_type,omitempty"`
	BaseRate           float64  `json:"base_rate,omitempty"`
	EventMultiplier    float64  `json:"event_multiplier,omitempty"`
	LocationMultiplier float64  `json:"location_multiplier,omitempty"`
	TimeMultiplier     float64  `json:"time_multiplier,omitempty"`
	CrowdFactor        float64  `json:"crowd_factor,omitempty"`
}

// RiskAssessment is the narrative companion to the price: the score,
// the findings that drove it and what the operator should do about it.
type RiskAssessment struct {
	RiskLevel       RiskLevel `json:"risk_level"`
	RiskScore       float64   `json:"risk_score"`
	Factors         []string  `json:"factors"`
	Recommendations []string  `json:"recommendations"`
}

// QuoteResult is one completed pricing computation
type QuoteResult struct {
	BasePrice       float64         `json:"base_price"`
	RiskMultiplier  float64         `json:"risk_multiplier"`
	FinalPrice      float64         `json:"final_price"`
	RiskLevel       RiskLevel       `json:"risk_level"`
	ConfidenceScore float64         `json:"confidence_score"`
	Breakdown       QuoteBreakdown  `json:"breakdown"`
	RiskAssessment  *RiskAssessment `json:"risk_assessment,omitempty"`
}

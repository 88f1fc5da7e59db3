package mlengine

import (
	"encoding/json"
	"strconv"

	"github.com/jag18729/guard-quote-sub000/internal/models"
)

// Full method names of the guardquote.ml service
const (
	generateQuoteMethod = "/guardquote.ml.QuoteService/GenerateQuote"
	healthCheckMethod   = "/guardquote.ml.ModelService/HealthCheck"
)

// eventTypeEnum maps event type codes to the wire enumeration.
// Codes without an entry fall back to corporate.
var eventTypeEnum = map[string]int32{
	"corporate":    1,
	"concert":      2,
	"sports":       3,
	"private":      4,
	"construction": 5,
	"retail":       6,
	"residential":  7,
}

// riskLevelFromWire maps the wire risk-level enumeration to internal
// levels. Unspecified or unknown values read as medium.
var riskLevelFromWire = map[int]models.RiskLevel{
	0: models.RiskLevelMedium,
	1: models.RiskLevelLow,
	2: models.RiskLevelMedium,
	3: models.RiskLevelHigh,
	4: models.RiskLevelCritical,
}

var riskLevelNames = map[string]models.RiskLevel{
	"RISK_LEVEL_UNSPECIFIED": models.RiskLevelMedium,
	"RISK_LEVEL_LOW":         models.RiskLevelLow,
	"RISK_LEVEL_MEDIUM":      models.RiskLevelMedium,
	"RISK_LEVEL_HIGH":        models.RiskLevelHigh,
	"RISK_LEVEL_CRITICAL":    models.RiskLevelCritical,
	"low":                    models.RiskLevelLow,
	"medium":                 models.RiskLevelMedium,
	"high":                   models.RiskLevelHigh,
	"critical":               models.RiskLevelCritical,
}

// Timestamp mirrors google.protobuf.Timestamp over the JSON codec
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

// QuoteRequest is the wire request of QuoteService.GenerateQuote
type QuoteRequest struct {
	EventType       int32     `json:"event_type"`
	LocationZip     string    `json:"location_zip"`
	NumGuards       int32     `json:"num_guards"`
	Hours           int32     `json:"hours"`
	EventDate       Timestamp `json:"event_date"`
	IsArmed         bool      `json:"is_armed"`
	RequiresVehicle bool      `json:"requires_vehicle"`
	CrowdSize       int32     `json:"crowd_size"`
	RequestID       string    `json:"request_id"`
}

// WireBreakdown is the breakdown block of a quote response
type WireBreakdown struct {
	ModelUsed   string   `json:"model_used"`
	RiskFactors []string `json:"risk_factors"`
	NumGuards   *int     `json:"num_guards,omitempty"`
	Hours       *int     `json:"hours,omitempty"`
	IsArmed     *bool    `json:"is_armed,omitempty"`
	HasVehicle  *bool    `json:"has_vehicle,omitempty"`
}

// QuoteResponse is the wire response of QuoteService.GenerateQuote.
// Numeric fields are declared loosely because the engine has shipped
// both numbers and decimal strings for them; asFloat sorts it out.
type QuoteResponse struct {
	BasePrice        json.RawMessage `json:"base_price"`
	RiskMultiplier   json.RawMessage `json:"risk_multiplier"`
	FinalPrice       json.RawMessage `json:"final_price"`
	RiskLevel        json.RawMessage `json:"risk_level"`
	ConfidenceScore  json.RawMessage `json:"confidence_score"`
	Breakdown        *WireBreakdown  `json:"breakdown"`
	ProcessingTimeMs json.RawMessage `json:"processing_time_ms"`
}

// HealthRequest is the wire request of ModelService.HealthCheck
type HealthRequest struct{}

// HealthResponse is the wire response of ModelService.HealthCheck
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	ModelLoaded bool   `json:"model_loaded"`
}

// asFloat parses a raw numeric field that may arrive as a JSON number
// or an encoded string. Parse failures substitute the given default.
func asFloat(raw json.RawMessage, def float64) float64 {
	if len(raw) == 0 {
		return def
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return def
}

// asRiskLevel parses the wire risk level, which may arrive as the enum
// ordinal or the enum name depending on engine version.
func asRiskLevel(raw json.RawMessage) models.RiskLevel {
	if len(raw) == 0 {
		return models.RiskLevelMedium
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if level, ok := riskLevelFromWire[n]; ok {
			return level
		}
		return models.RiskLevelMedium
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if level, ok := riskLevelNames[s]; ok {
			return level
		}
	}
	return models.RiskLevelMedium
}

// wireEventType maps an event type code to its wire enum value
func wireEventType(code string) int32 {
	if v, ok := eventTypeEnum[code]; ok {
		return v
	}
	return eventTypeEnum["corporate"]
}

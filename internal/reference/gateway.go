package reference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jag18729/guard-quote-sub000/internal/config"
)

// EventTypeRecord is the pricing reference row for one event category
type EventTypeRecord struct {
	Code           string
	Name           string
	BaseRate       float64
	RiskMultiplier float64
}

// LocationRecord is the pricing reference row for one service area
type LocationRecord struct {
	ZipCode      string
	City         string
	State        string
	RiskZone     string
	RateModifier float64
}

// DefaultEventType is used when an event type code has no reference row
func DefaultEventType(code string) EventTypeRecord {
	return EventTypeRecord{Code: code, BaseRate: 35, RiskMultiplier: 1.0}
}

// DefaultLocation is used when a zip code has no reference row
func DefaultLocation(zip string) LocationRecord {
	return LocationRecord{ZipCode: zip, City: "Unknown", State: "CA", RiskZone: "standard", RateModifier: 1.0}
}

// Gateway provides read-only access to the pricing reference tables.
// The formula engine and fallback coordinator consume this interface;
// tests substitute in-memory fakes.
type Gateway interface {
	GetEventType(ctx context.Context, code string) (EventTypeRecord, error)
	ListEventTypes(ctx context.Context) ([]EventTypeRecord, error)
	GetLocation(ctx context.Context, zip string) (LocationRecord, error)
	HistoricalSampleCount(ctx context.Context, eventTypeCode string, numGuards int) (int64, error)
	Ping(ctx context.Context) error
}

// ErrNotFound is returned when a reference row does not exist
var ErrNotFound = errors.New("reference record not found")

type eventTypeRow struct {
	ID             uint    `gorm:"primaryKey"`
	Code           string  `gorm:"column:code"`
	Name           string  `gorm:"column:name"`
	BaseRate       float64 `gorm:"column:base_rate"`
	RiskMultiplier float64 `gorm:"column:risk_multiplier"`
}

func (eventTypeRow) TableName() string { return "event_types" }

type locationRow struct {
	ID           uint    `gorm:"primaryKey"`
	ZipCode      string  `gorm:"column:zip_code"`
	City         string  `gorm:"column:city"`
	State        string  `gorm:"column:state"`
	RiskZone     string  `gorm:"column:risk_zone"`
	RateModifier float64 `gorm:"column:rate_modifier"`
}

func (locationRow) TableName() string { return "locations" }

type trainingRow struct {
	ID            uint   `gorm:"primaryKey"`
	EventTypeCode string `gorm:"column:event_type_code"`
	NumGuards     int    `gorm:"column:num_guards"`
}

func (trainingRow) TableName() string { return "ml_training_data" }

// PostgresGateway reads reference data from the shared Postgres store
type PostgresGateway struct {
	db *gorm.DB
}

// NewPostgresGateway opens the shared database connection. The
// connection is established once at startup and reused by all requests.
func NewPostgresGateway(cfg config.DatabaseConfig) (*PostgresGateway, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	return &PostgresGateway{db: db}, nil
}

// GetEventType returns the reference row for an event type code
func (g *PostgresGateway) GetEventType(ctx context.Context, code string) (EventTypeRecord, error) {
	var row eventTypeRow
	err := g.db.WithContext(ctx).Where("code = ?", code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return EventTypeRecord{}, ErrNotFound
	}
	if err != nil {
		return EventTypeRecord{}, fmt.Errorf("event type lookup failed: %w", err)
	}
	return EventTypeRecord{
		Code:           row.Code,
		Name:           row.Name,
		BaseRate:       row.BaseRate,
		RiskMultiplier: row.RiskMultiplier,
	}, nil
}

// ListEventTypes returns every event type reference row
func (g *PostgresGateway) ListEventTypes(ctx context.Context) ([]EventTypeRecord, error) {
	var rows []eventTypeRow
	if err := g.db.WithContext(ctx).Order("code").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("event type listing failed: %w", err)
	}
	records := make([]EventTypeRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, EventTypeRecord{
			Code:           row.Code,
			Name:           row.Name,
			BaseRate:       row.BaseRate,
			RiskMultiplier: row.RiskMultiplier,
		})
	}
	return records, nil
}

// GetLocation returns the reference row for a zip code
func (g *PostgresGateway) GetLocation(ctx context.Context, zip string) (LocationRecord, error) {
	var row locationRow
	err := g.db.WithContext(ctx).Where("zip_code = ?", zip).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LocationRecord{}, ErrNotFound
	}
	if err != nil {
		return LocationRecord{}, fmt.Errorf("location lookup failed: %w", err)
	}
	return LocationRecord{
		ZipCode:      row.ZipCode,
		City:         row.City,
		State:        row.State,
		RiskZone:     row.RiskZone,
		RateModifier: row.RateModifier,
	}, nil
}

// HistoricalSampleCount counts training samples for the event type with
// a guard count within +-2 of the requested one. The confidence score
// of formula results is derived from this band.
func (g *PostgresGateway) HistoricalSampleCount(ctx context.Context, eventTypeCode string, numGuards int) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&trainingRow{}).
		Where("event_type_code = ? AND num_guards BETWEEN ? AND ?", eventTypeCode, numGuards-2, numGuards+2).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("historical sample count failed: %w", err)
	}
	return count, nil
}

// Ping verifies database connectivity for health checks
func (g *PostgresGateway) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

package kri

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/napsa-zm/erm-platform/internal/aml/stream"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrThresholdOrder is returned when the band structure is not strictly
	// ordered. Violations are never persisted.
	ErrThresholdOrder = errors.New("thresholds must satisfy lower_critical < lower_warning < upper_warning < upper_critical")
)

// EventSink receives threshold-breach events. Satisfied by the stream
// engine.
type EventSink interface {
	IngestEvent(event *stream.Event) bool
}

// Service manages indicators and their measurements.
type Service struct {
	db     *gorm.DB
	sink   EventSink
	logger *zap.Logger
}

// NewService creates a KRI service. sink may be nil.
func NewService(db *gorm.DB, sink EventSink, logger *zap.Logger) *Service {
	return &Service{db: db, sink: sink, logger: logger}
}

// Models returns the KRI models, for migration.
func Models() []any {
	return []any{&KeyRiskIndicator{}, &Measurement{}}
}

// validateThresholds enforces strict band ordering.
func validateThresholds(k *KeyRiskIndicator) error {
	if !(k.LowerCritical < k.LowerWarning && k.LowerWarning < k.UpperWarning && k.UpperWarning < k.UpperCritical) {
		return ErrThresholdOrder
	}
	return nil
}

// EvaluateStatus maps a value onto the indicator's bands. Values inside the
// warning band are green; outside the warning band but inside the critical
// band amber; outside the critical band red; and more than 20% beyond the
// critical bound critical.
func EvaluateStatus(k *KeyRiskIndicator, value float64) Status {
	switch {
	case value < k.LowerCritical*0.8 || value > k.UpperCritical*1.2:
		return StatusCritical
	case value < k.LowerCritical || value > k.UpperCritical:
		return StatusRed
	case value < k.LowerWarning || value > k.UpperWarning:
		return StatusAmber
	default:
		return StatusGreen
	}
}

// Create validates the band ordering and persists the indicator.
func (s *Service) Create(ctx context.Context, k *KeyRiskIndicator) error {
	if err := validateThresholds(k); err != nil {
		return err
	}
	k.ID = uuid.New()
	if k.Direction == "" {
		k.Direction = DirectionBoth
	}
	k.Status = EvaluateStatus(k, k.CurrentValue)
	if k.Trend == "" {
		k.Trend = TrendStable
	}
	if err := s.db.WithContext(ctx).Create(k).Error; err != nil {
		return fmt.Errorf("failed to create kri: %w", err)
	}
	s.logger.Info("kri created", zap.String("kri_id", k.ID.String()), zap.String("name", k.Name))
	return nil
}

// Get loads an indicator with its recent measurements.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*KeyRiskIndicator, error) {
	var k KeyRiskIndicator
	err := s.db.WithContext(ctx).
		Preload("Measurements", func(db *gorm.DB) *gorm.DB {
			return db.Order("measured_at DESC").Limit(50)
		}).
		First(&k, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("kri %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kri %s: %w", id, err)
	}
	return &k, nil
}

// List returns indicators, optionally filtered by status or risk.
func (s *Service) List(ctx context.Context, status Status, riskID string, limit, offset int) ([]KeyRiskIndicator, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&KeyRiskIndicator{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if riskID != "" {
		q = q.Where("risk_id = ?", riskID)
	}
	var out []KeyRiskIndicator
	if err := q.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list kris: %w", err)
	}
	return out, nil
}

// Update applies changed fields, re-validates the band ordering and
// re-evaluates the status against the current value.
func (s *Service) Update(ctx context.Context, id uuid.UUID, apply func(*KeyRiskIndicator)) (*KeyRiskIndicator, error) {
	k, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	apply(k)
	if err := validateThresholds(k); err != nil {
		return nil, err
	}
	k.Status = EvaluateStatus(k, k.CurrentValue)
	if err := s.db.WithContext(ctx).Save(k).Error; err != nil {
		return nil, fmt.Errorf("failed to update kri %s: %w", id, err)
	}
	return k, nil
}

// Delete soft deletes an indicator.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&KeyRiskIndicator{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete kri %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("kri %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddMeasurement records an observation, updates the indicator's current
// value, status and trend, and emits a threshold-breach event when the new
// status is red or critical.
func (s *Service) AddMeasurement(ctx context.Context, kriID uuid.UUID, value float64, notes string, measuredAt time.Time) (*Measurement, *KeyRiskIndicator, error) {
	k, err := s.Get(ctx, kriID)
	if err != nil {
		return nil, nil, err
	}
	if measuredAt.IsZero() {
		measuredAt = time.Now().UTC()
	}

	previous := k.Status
	status := EvaluateStatus(k, value)
	m := &Measurement{
		ID:         uuid.New(),
		KRIID:      kriID,
		Value:      value,
		Status:     status,
		Notes:      notes,
		MeasuredAt: measuredAt,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("failed to record measurement: %w", err)
		}
		k.CurrentValue = value
		k.Status = status
		k.Trend = s.computeTrend(tx, k, value)
		k.LastMeasuredAt = &measuredAt
		return tx.Model(&KeyRiskIndicator{}).Where("id = ?", kriID).Updates(map[string]any{
			"current_value":    value,
			"status":           status,
			"trend":            k.Trend,
			"last_measured_at": measuredAt,
		}).Error
	})
	if err != nil {
		return nil, nil, err
	}

	if s.sink != nil && (status == StatusRed || status == StatusCritical) {
		riskScore := 0.75
		if status == StatusCritical {
			riskScore = 0.95
		}
		accepted := s.sink.IngestEvent(&stream.Event{
			Type:       stream.EventThresholdBreach,
			Timestamp:  measuredAt,
			Source:     "kri",
			EntityType: "kri",
			EntityID:   kriID.String(),
			RiskScore:  riskScore,
			Data: map[string]any{
				"kri_name":        k.Name,
				"value":           value,
				"status":          string(status),
				"previous_status": string(previous),
			},
		})
		if !accepted {
			s.logger.Warn("threshold breach event not accepted",
				zap.String("kri_id", kriID.String()))
		}
	}

	return m, k, nil
}

// computeTrend compares the newest value to the mean of the prior five
// measurements with a 5% dead band, then orients the movement by the
// indicator's direction: on a down-direction indicator a falling value is
// an increasing risk trend.
func (s *Service) computeTrend(tx *gorm.DB, k *KeyRiskIndicator, latest float64) Trend {
	var prior []Measurement
	if err := tx.Where("kri_id = ?", k.ID).
		Order("measured_at DESC").Offset(1).Limit(5).Find(&prior).Error; err != nil || len(prior) == 0 {
		return TrendStable
	}
	var sum float64
	for _, m := range prior {
		sum += m.Value
	}
	mean := sum / float64(len(prior))
	band := 0.05 * mean
	if band < 0 {
		band = -band
	}
	var rising bool
	switch {
	case latest > mean+band:
		rising = true
	case latest < mean-band:
		rising = false
	default:
		return TrendStable
	}
	if k.Direction == DirectionDown {
		rising = !rising
	}
	if rising {
		return TrendIncreasing
	}
	return TrendDecreasing
}

// Summary returns indicator counts by status.
func (s *Service) Summary(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, 4)
	for _, st := range []Status{StatusGreen, StatusAmber, StatusRed, StatusCritical} {
		var n int64
		if err := s.db.WithContext(ctx).Model(&KeyRiskIndicator{}).
			Where("status = ?", st).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to summarise kris: %w", err)
		}
		out[string(st)] = n
	}
	return out, nil
}

package kri

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the traffic-light state of an indicator.
type Status string

const (
	StatusGreen    Status = "green"
	StatusAmber    Status = "amber"
	StatusRed      Status = "red"
	StatusCritical Status = "critical"
)

// Direction states which way the metric degrades. It drives trend
// interpretation; the threshold bands are two sided either way.
type Direction string

const (
	DirectionUp   Direction = "up"   // higher values are worse
	DirectionDown Direction = "down" // lower values are worse
	DirectionBoth Direction = "both"
)

// Trend summarises recent risk movement, oriented by the indicator's
// Direction: increasing always means moving toward breach, so a falling
// value on a down-direction indicator reports increasing.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// KeyRiskIndicator is a monitored metric with a green/amber/red/critical
// band structure. Thresholds must satisfy
// LowerCritical < LowerWarning < UpperWarning < UpperCritical.
type KeyRiskIndicator struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RiskID      *string   `gorm:"size:20;index" json:"risk_id,omitempty"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	MetricType  string    `json:"metric_type"` // percentage, count, ratio, amount
	Direction   Direction `gorm:"size:10;default:both" json:"direction"`

	LowerCritical float64 `json:"lower_critical"`
	LowerWarning  float64 `json:"lower_warning"`
	UpperWarning  float64 `json:"upper_warning"`
	UpperCritical float64 `json:"upper_critical"`

	TargetValue  float64 `json:"target_value"`
	CurrentValue float64 `json:"current_value"`
	Status       Status  `gorm:"size:10;default:green;index" json:"status"`
	Trend        Trend   `gorm:"size:12;default:stable" json:"trend"`

	MeasurementFrequency string `json:"measurement_frequency"`
	DataSource           string `json:"data_source"`
	ResponsibleParty     string `json:"responsible_party"`

	LastMeasuredAt *time.Time     `json:"last_measured_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	Measurements []Measurement `gorm:"foreignKey:KRIID" json:"measurements,omitempty"`
}

// Measurement is a single observation of an indicator.
type Measurement struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	KRIID      uuid.UUID `gorm:"type:uuid;index;not null" json:"kri_id"`
	Value      float64   `gorm:"not null" json:"value"`
	Status     Status    `gorm:"size:10" json:"status"`
	Notes      string    `json:"notes"`
	MeasuredAt time.Time `gorm:"index" json:"measured_at"`
	CreatedAt  time.Time `json:"created_at"`
}

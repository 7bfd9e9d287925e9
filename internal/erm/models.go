package erm

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RiskStatus is the lifecycle state of a risk register entry.
type RiskStatus string

const (
	RiskStatusDraft       RiskStatus = "draft"
	RiskStatusActive      RiskStatus = "active"
	RiskStatusUnderReview RiskStatus = "under_review"
	RiskStatusClosed      RiskStatus = "closed"
	RiskStatusArchived    RiskStatus = "archived"
)

// ControlType classifies how a control acts on its risks.
type ControlType string

const (
	ControlPreventive   ControlType = "preventive"
	ControlDetective    ControlType = "detective"
	ControlCorrective   ControlType = "corrective"
	ControlCompensating ControlType = "compensating"
)

// ControlStatus is the latest testing outcome of a control.
type ControlStatus string

const (
	ControlEffective          ControlStatus = "effective"
	ControlPartiallyEffective ControlStatus = "partially_effective"
	ControlIneffective        ControlStatus = "ineffective"
	ControlNotTested          ControlStatus = "not_tested"
)

// Risk is a risk register entry. IDs are human readable (RISK-2026-0001)
// and assigned by the service at creation time.
type Risk struct {
	ID          string     `gorm:"primaryKey;size:20" json:"id"`
	Title       string     `gorm:"not null;index" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	CategoryID  *uint      `gorm:"index" json:"category_id,omitempty"`
	MatrixID    *string    `gorm:"size:20" json:"matrix_id,omitempty"`
	Status      RiskStatus `gorm:"size:20;default:draft;index" json:"status"`

	Likelihood        int     `gorm:"check:likelihood BETWEEN 1 AND 5" json:"likelihood"`
	Impact            int     `gorm:"check:impact BETWEEN 1 AND 5" json:"impact"`
	InherentRiskScore float64 `json:"inherent_risk_score"`
	ResidualRiskScore float64 `json:"residual_risk_score"`

	RiskSource string `json:"risk_source"`
	RiskOwner  string `gorm:"size:100" json:"risk_owner"`
	Department string `gorm:"index" json:"department"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Category    *RiskCategory    `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Controls    []RiskControl    `gorm:"foreignKey:RiskID" json:"controls,omitempty"`
	Assessments []RiskAssessment `gorm:"foreignKey:RiskID" json:"assessments,omitempty"`
}

// RiskCategory is a taxonomy node for the register (strategic, operational,
// financial, compliance, cyber, reputational, ...).
type RiskCategory struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// RiskMatrix defines the likelihood/impact grid and its severity bands.
type RiskMatrix struct {
	ID          string    `gorm:"primaryKey;size:20" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Size        int       `gorm:"default:5" json:"size"`
	LowMax      float64   `gorm:"default:6" json:"low_max"`
	MediumMax   float64   `gorm:"default:12" json:"medium_max"`
	HighMax     float64   `gorm:"default:20" json:"high_max"`
	IsDefault   bool      `gorm:"default:false" json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Control is a mitigating control, linkable to many risks.
type Control struct {
	ID          uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Code        string        `gorm:"uniqueIndex;size:30;not null" json:"code"`
	Name        string        `gorm:"not null" json:"name"`
	Description string        `gorm:"type:text" json:"description"`
	Type        ControlType   `gorm:"size:20;not null" json:"type"`
	Status      ControlStatus `gorm:"size:30;default:not_tested" json:"status"`

	ControlOwner         string     `json:"control_owner"`
	ImplementationStatus string     `json:"implementation_status"`
	TestingFrequency     string     `json:"testing_frequency"`
	LastTestDate         *time.Time `json:"last_test_date,omitempty"`
	NextTestDate         *time.Time `json:"next_test_date,omitempty"`
	EffectivenessRating  float64    `gorm:"check:effectiveness_rating BETWEEN 0 AND 100" json:"effectiveness_rating"`
	CostOfControl        float64    `json:"cost_of_control"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// RiskControl links a control to a risk with coverage metadata.
type RiskControl struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RiskID             string    `gorm:"size:20;index:idx_risk_control,unique" json:"risk_id"`
	ControlID          uuid.UUID `gorm:"type:uuid;index:idx_risk_control,unique" json:"control_id"`
	CoveragePercentage float64   `json:"coverage_percentage"`
	Criticality        string    `json:"criticality"`
	CreatedAt          time.Time `json:"created_at"`

	Control *Control `gorm:"foreignKey:ControlID" json:"control,omitempty"`
}

// RiskAssessment is a point-in-time re-scoring of a risk.
type RiskAssessment struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RiskID         string    `gorm:"size:20;index;not null" json:"risk_id"`
	AssessorID     string    `json:"assessor_id"`
	Likelihood     int       `gorm:"check:likelihood BETWEEN 1 AND 5" json:"likelihood"`
	Impact         int       `gorm:"check:impact BETWEEN 1 AND 5" json:"impact"`
	Score          float64   `json:"score"`
	Notes          string    `gorm:"type:text" json:"notes"`
	AssessmentDate time.Time `json:"assessment_date"`
	CreatedAt      time.Time `json:"created_at"`
}

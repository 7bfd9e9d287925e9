package aml

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RiskRating buckets a customer's money-laundering exposure.
type RiskRating string

const (
	RiskLow      RiskRating = "low"
	RiskMedium   RiskRating = "medium"
	RiskHigh     RiskRating = "high"
	RiskCritical RiskRating = "critical"
)

// AlertSeverity grades a transaction alert.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus is the triage state of a transaction alert.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertAcknowledged  AlertStatus = "acknowledged"
	AlertResolved      AlertStatus = "resolved"
	AlertFalsePositive AlertStatus = "false_positive"
)

// CaseStatus is the investigation state of a compliance case.
type CaseStatus string

const (
	CaseOpen          CaseStatus = "open"
	CaseInvestigating CaseStatus = "investigating"
	CaseEscalated     CaseStatus = "escalated"
	CaseClosed        CaseStatus = "closed"
)

// ReportType distinguishes regulatory filings.
type ReportType string

const (
	ReportSAR ReportType = "SAR" // suspicious activity report
	ReportCTR ReportType = "CTR" // currency transaction report
)

// ReportStatus is the filing lifecycle of a regulatory report.
type ReportStatus string

const (
	ReportDraft     ReportStatus = "draft"
	ReportPending   ReportStatus = "pending"
	ReportSubmitted ReportStatus = "submitted"
	ReportAccepted  ReportStatus = "accepted"
	ReportRejected  ReportStatus = "rejected"
)

// CustomerProfile is the KYC view of a member or counterparty.
type CustomerProfile struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerNumber string     `gorm:"uniqueIndex;size:30;not null" json:"customer_number"`
	FullName       string     `gorm:"not null;index" json:"full_name"`
	DateOfBirth    *time.Time `json:"date_of_birth,omitempty"`
	Nationality    string     `gorm:"size:2" json:"nationality"`
	Address        string     `json:"address"`
	Occupation     string     `json:"occupation"`

	RiskRating    RiskRating `gorm:"size:10;default:low;index" json:"risk_rating"`
	RiskScore     float64    `json:"risk_score"`
	IsPEP         bool       `gorm:"default:false" json:"is_pep"`
	SanctionsHit  bool       `gorm:"default:false" json:"sanctions_hit"`
	LastScreening *time.Time `json:"last_screening,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Transaction is a monitored money movement.
type Transaction struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID       uuid.UUID       `gorm:"type:uuid;index;not null" json:"customer_id"`
	Reference        string          `gorm:"uniqueIndex;size:50" json:"reference"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency         string          `gorm:"size:3;default:ZMW" json:"currency"`
	Direction        string          `gorm:"size:10" json:"direction"` // debit/credit
	Channel          string          `gorm:"size:30" json:"channel"`   // branch, mobile, transfer
	Counterparty     string          `json:"counterparty"`
	CounterpartyBank string          `json:"counterparty_bank"`
	Narrative        string          `json:"narrative"`
	ExecutedAt       time.Time       `gorm:"index" json:"executed_at"`
	CreatedAt        time.Time       `json:"created_at"`

	Customer *CustomerProfile `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
}

// TransactionAlert is an alert raised by the stream engine or screening.
type TransactionAlert struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID *uuid.UUID    `gorm:"type:uuid;index" json:"transaction_id,omitempty"`
	CustomerID    *uuid.UUID    `gorm:"type:uuid;index" json:"customer_id,omitempty"`
	Scenario      string        `gorm:"size:40;index;not null" json:"scenario"`
	Severity      AlertSeverity `gorm:"size:10;index;not null" json:"severity"`
	Status        AlertStatus   `gorm:"size:20;default:open;index" json:"status"`
	Title         string        `gorm:"not null" json:"title"`
	Description   string        `gorm:"type:text" json:"description"`
	Details       string        `gorm:"type:text" json:"details"` // JSON payload from the processor
	Score         float64       `json:"score"`

	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	Resolution     string     `json:"resolution,omitempty"`

	CaseID    *uuid.UUID `gorm:"type:uuid;index" json:"case_id,omitempty"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ComplianceCase groups alerts into an investigation.
type ComplianceCase struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CaseNumber string     `gorm:"uniqueIndex;size:30;not null" json:"case_number"`
	CustomerID *uuid.UUID `gorm:"type:uuid;index" json:"customer_id,omitempty"`
	Title      string     `gorm:"not null" json:"title"`
	Summary    string     `gorm:"type:text" json:"summary"`
	Status     CaseStatus `gorm:"size:20;default:open;index" json:"status"`
	Priority   string     `gorm:"size:10;default:medium" json:"priority"`
	AssignedTo string     `json:"assigned_to"`

	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Alerts   []TransactionAlert  `gorm:"foreignKey:CaseID" json:"alerts,omitempty"`
	Timeline []CaseTimelineEntry `gorm:"foreignKey:CaseID" json:"timeline,omitempty"`
}

// CaseTimelineEntry is an append-only note on a case.
type CaseTimelineEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CaseID    uuid.UUID `gorm:"type:uuid;index;not null" json:"case_id"`
	Actor     string    `json:"actor"`
	Action    string    `gorm:"size:40" json:"action"`
	Note      string    `gorm:"type:text" json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// RegulatoryReport is a SAR or CTR filing.
type RegulatoryReport struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ReportNumber string       `gorm:"uniqueIndex;size:30;not null" json:"report_number"`
	Type         ReportType   `gorm:"size:5;not null;index" json:"type"`
	Status       ReportStatus `gorm:"size:15;default:draft;index" json:"status"`
	CaseID       *uuid.UUID   `gorm:"type:uuid;index" json:"case_id,omitempty"`
	CustomerID   *uuid.UUID   `gorm:"type:uuid;index" json:"customer_id,omitempty"`
	Narrative    string       `gorm:"type:text" json:"narrative"`
	Payload      string       `gorm:"type:text" json:"payload"` // goAML envelope JSON

	PreparedBy      string     `json:"prepared_by"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SanctionsList identifies a source list (OFAC, UN, EU, local).
type SanctionsList struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"uniqueIndex;size:20;not null" json:"code"`
	Name      string    `gorm:"not null" json:"name"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`

	Entries []WatchlistEntry `gorm:"foreignKey:ListID" json:"entries,omitempty"`
}

// WatchlistEntry is a screened name on a sanctions list.
type WatchlistEntry struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ListID      uint       `gorm:"index;not null" json:"list_id"`
	FullName    string     `gorm:"index;not null" json:"full_name"`
	AltNames    string     `json:"alt_names"` // semicolon separated
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Country     string     `gorm:"size:2" json:"country"`
	Program     string     `json:"program"`
	EntityType  string     `gorm:"size:12;default:individual" json:"entity_type"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Models returns every AML model, for migration.
func Models() []any {
	return []any{
		&CustomerProfile{}, &Transaction{}, &TransactionAlert{},
		&ComplianceCase{}, &CaseTimelineEntry{}, &RegulatoryReport{},
		&SanctionsList{}, &WatchlistEntry{},
	}
}

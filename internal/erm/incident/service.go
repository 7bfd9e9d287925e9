package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("already exists")
	ErrValidation    = errors.New("validation failed")
	ErrBadTransition = errors.New("invalid status transition")
)

// Severity grades an incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status is the incident lifecycle state.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusContained     Status = "contained"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// Type classifies the incident.
type Type string

const (
	TypeSecurityBreach      Type = "security_breach"
	TypeDataLoss            Type = "data_loss"
	TypeSystemFailure       Type = "system_failure"
	TypeComplianceViolation Type = "compliance_violation"
	TypeOperationalError    Type = "operational_error"
	TypeThirdParty          Type = "third_party_issue"
)

// Incident is an operational or security event under management.
type Incident struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	IncidentNumber string    `gorm:"uniqueIndex;size:30;not null" json:"incident_number"`
	Title          string    `gorm:"not null" json:"title"`
	Description    string    `gorm:"type:text" json:"description"`
	Type           Type      `gorm:"size:25;not null" json:"type"`
	Severity       Severity  `gorm:"size:10;not null;index" json:"severity"`
	Status         Status    `gorm:"size:15;default:open;index" json:"status"`

	RiskID     *string `gorm:"size:20" json:"risk_id,omitempty"`
	ReportedBy string  `json:"reported_by"`
	AssignedTo string  `json:"assigned_to"`

	DetectedAt  time.Time  `gorm:"not null" json:"detected_at"`
	ReportedAt  time.Time  `json:"reported_at"`
	ContainedAt *time.Time `json:"contained_at,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`

	FinancialImpact  float64 `json:"financial_impact"`
	DataCompromised  bool    `json:"data_compromised"`
	RegulatoryBreach bool    `json:"regulatory_breach"`
	RootCause        string  `gorm:"type:text" json:"root_cause"`
	LessonsLearned   string  `gorm:"type:text" json:"lessons_learned"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Timeline []TimelineEvent `gorm:"foreignKey:IncidentID" json:"timeline,omitempty"`
}

// TimelineEvent is an append-only entry on an incident.
type TimelineEvent struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	IncidentID uuid.UUID `gorm:"type:uuid;index;not null" json:"incident_id"`
	Actor      string    `json:"actor"`
	Action     string    `gorm:"size:40" json:"action"`
	Note       string    `gorm:"type:text" json:"note"`
	CreatedAt  time.Time `json:"created_at"`
}

// transitions encodes the open→investigating→contained→resolved→closed
// flow; investigation can go straight to resolved for minor incidents.
var transitions = map[Status][]Status{
	StatusOpen:          {StatusInvestigating},
	StatusInvestigating: {StatusContained, StatusResolved},
	StatusContained:     {StatusResolved},
	StatusResolved:      {StatusClosed, StatusInvestigating},
}

// Service manages incidents.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates an incident service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Models returns the incident models, for migration.
func Models() []any {
	return []any{&Incident{}, &TimelineEvent{}}
}

// Create assigns INC-YYYY-NNNN and persists the incident.
func (s *Service) Create(ctx context.Context, inc *Incident) error {
	if inc.Title == "" || inc.Type == "" || inc.Severity == "" {
		return fmt.Errorf("%w: title, type and severity are required", ErrValidation)
	}
	if inc.DetectedAt.IsZero() {
		return fmt.Errorf("%w: detected_at is required", ErrValidation)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		year := time.Now().Year()
		var count int64
		if err := tx.Model(&Incident{}).
			Where("incident_number LIKE ?", fmt.Sprintf("INC-%d-%%", year)).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to allocate incident number: %w", err)
		}
		inc.ID = uuid.New()
		inc.IncidentNumber = fmt.Sprintf("INC-%d-%04d", year, count+1)
		inc.Status = StatusOpen
		if inc.ReportedAt.IsZero() {
			inc.ReportedAt = time.Now().UTC()
		}
		if err := tx.Create(inc).Error; err != nil {
			return fmt.Errorf("failed to create incident: %w", err)
		}
		return tx.Create(&TimelineEvent{
			ID:         uuid.New(),
			IncidentID: inc.ID,
			Actor:      inc.ReportedBy,
			Action:     "reported",
			Note:       inc.Title,
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// concurrent creates racing for the same incident number
		return fmt.Errorf("incident number %s: %w", inc.IncidentNumber, ErrDuplicate)
	}
	return err
}

// Get loads an incident with its timeline.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Incident, error) {
	var inc Incident
	err := s.db.WithContext(ctx).
		Preload("Timeline", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		First(&inc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load incident %s: %w", id, err)
	}
	return &inc, nil
}

// List filters incidents by status and severity.
func (s *Service) List(ctx context.Context, status Status, severity Severity, limit, offset int) ([]Incident, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&Incident{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if severity != "" {
		q = q.Where("severity = ?", severity)
	}
	var out []Incident
	if err := q.Order("detected_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	return out, nil
}

// Transition moves an incident along its lifecycle, stamping the matching
// timestamp and appending a timeline entry.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status, actor, note string) (*Incident, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, next := range transitions[inc.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, inc.Status, to)
	}

	now := time.Now().UTC()
	updates := map[string]any{"status": to}
	switch to {
	case StatusContained:
		updates["contained_at"] = now
	case StatusResolved:
		updates["resolved_at"] = now
	case StatusClosed:
		updates["closed_at"] = now
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Incident{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to transition incident: %w", err)
		}
		return tx.Create(&TimelineEvent{
			ID:         uuid.New(),
			IncidentID: id,
			Actor:      actor,
			Action:     string(to),
			Note:       note,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("incident transitioned",
		zap.String("incident", inc.IncidentNumber), zap.String("status", string(to)))
	return s.Get(ctx, id)
}

// AddNote appends a free-form timeline entry.
func (s *Service) AddNote(ctx context.Context, id uuid.UUID, actor, note string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&TimelineEvent{
		ID:         uuid.New(),
		IncidentID: id,
		Actor:      actor,
		Action:     "note",
		Note:       note,
	}).Error
}

// Update records investigation findings on the incident.
func (s *Service) Update(ctx context.Context, id uuid.UUID, updates map[string]any) (*Incident, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	allowed := map[string]bool{
		"description": true, "assigned_to": true, "root_cause": true,
		"lessons_learned": true, "financial_impact": true,
		"data_compromised": true, "regulatory_breach": true, "risk_id": true,
	}
	filtered := make(map[string]any, len(updates))
	for k, v := range updates {
		if allowed[k] {
			filtered[k] = v
		}
	}
	if len(filtered) > 0 {
		if err := s.db.WithContext(ctx).Model(&Incident{}).Where("id = ?", id).
			Updates(filtered).Error; err != nil {
			return nil, fmt.Errorf("failed to update incident: %w", err)
		}
	}
	return s.Get(ctx, id)
}

package cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/napsa-zm/erm-platform/internal/aml"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrBadTransition = errors.New("invalid status transition")
)

// transitions encodes the open→investigating→escalated→closed flow.
// Investigations can close directly; escalation is for cases needing a
// SAR decision or senior review.
var transitions = map[aml.CaseStatus][]aml.CaseStatus{
	aml.CaseOpen:          {aml.CaseInvestigating, aml.CaseClosed},
	aml.CaseInvestigating: {aml.CaseEscalated, aml.CaseClosed},
	aml.CaseEscalated:     {aml.CaseInvestigating, aml.CaseClosed},
}

// Service runs compliance case management: alerts grouped into
// investigations, with timelines and SAR linkage.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a case service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Open creates a case, numbered CASE-YYYY-NNNN, optionally seeded with
// alerts which are attached and acknowledged in the same transaction.
func (s *Service) Open(ctx context.Context, c *aml.ComplianceCase, alertIDs []uuid.UUID) error {
	if c.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		year := time.Now().Year()
		var count int64
		if err := tx.Model(&aml.ComplianceCase{}).
			Where("case_number LIKE ?", fmt.Sprintf("CASE-%d-%%", year)).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to allocate case number: %w", err)
		}
		c.ID = uuid.New()
		c.CaseNumber = fmt.Sprintf("CASE-%d-%04d", year, count+1)
		c.Status = aml.CaseOpen
		if c.Priority == "" {
			c.Priority = "medium"
		}
		c.OpenedAt = time.Now().UTC()
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("failed to create case: %w", err)
		}
		if err := tx.Create(&aml.CaseTimelineEntry{
			ID:     uuid.New(),
			CaseID: c.ID,
			Actor:  c.AssignedTo,
			Action: "opened",
			Note:   c.Title,
		}).Error; err != nil {
			return err
		}
		for _, alertID := range alertIDs {
			if err := attachAlertTx(tx, c, alertID, c.AssignedTo); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// concurrent opens racing for the same case number
		return fmt.Errorf("case number %s: %w", c.CaseNumber, aml.ErrDuplicate)
	}
	return err
}

// Get loads a case with its alerts and timeline.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*aml.ComplianceCase, error) {
	var c aml.ComplianceCase
	err := s.db.WithContext(ctx).
		Preload("Alerts").
		Preload("Timeline", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load case %s: %w", id, err)
	}
	return &c, nil
}

// List filters cases by status and assignee.
func (s *Service) List(ctx context.Context, status aml.CaseStatus, assignedTo string, limit, offset int) ([]aml.ComplianceCase, int64, error) {
	q := s.db.WithContext(ctx).Model(&aml.ComplianceCase{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if assignedTo != "" {
		q = q.Where("assigned_to = ?", assignedTo)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count cases: %w", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []aml.ComplianceCase
	if err := q.Order("opened_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list cases: %w", err)
	}
	return out, total, nil
}

// AttachAlert assigns an alert to a case and acknowledges it if still open.
func (s *Service) AttachAlert(ctx context.Context, caseID, alertID uuid.UUID, actor string) error {
	c, err := s.Get(ctx, caseID)
	if err != nil {
		return err
	}
	if c.Status == aml.CaseClosed {
		return fmt.Errorf("%w: case is closed", ErrBadTransition)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return attachAlertTx(tx, c, alertID, actor)
	})
}

func attachAlertTx(tx *gorm.DB, c *aml.ComplianceCase, alertID uuid.UUID, actor string) error {
	var a aml.TransactionAlert
	err := tx.First(&a, "id = ?", alertID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load alert %s: %w", alertID, err)
	}
	if a.CaseID != nil && *a.CaseID != c.ID {
		return fmt.Errorf("%w: alert %s already belongs to another case", ErrValidation, alertID)
	}

	updates := map[string]any{"case_id": c.ID}
	if a.Status == aml.AlertOpen {
		now := time.Now().UTC()
		updates["status"] = aml.AlertAcknowledged
		updates["acknowledged_by"] = actor
		updates["acknowledged_at"] = now
	}
	if err := tx.Model(&aml.TransactionAlert{}).Where("id = ?", alertID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to attach alert: %w", err)
	}
	return tx.Create(&aml.CaseTimelineEntry{
		ID:     uuid.New(),
		CaseID: c.ID,
		Actor:  actor,
		Action: "alert_attached",
		Note:   fmt.Sprintf("alert %s (%s)", alertID, a.Scenario),
	}).Error
}

// Transition moves a case along its lifecycle. Closing stamps ClosedAt
// and records the resolution note on the timeline.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to aml.CaseStatus, actor, note string) (*aml.ComplianceCase, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, next := range transitions[c.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, c.Status, to)
	}

	updates := map[string]any{"status": to}
	if to == aml.CaseClosed {
		updates["closed_at"] = time.Now().UTC()
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&aml.ComplianceCase{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to transition case: %w", err)
		}
		return tx.Create(&aml.CaseTimelineEntry{
			ID:     uuid.New(),
			CaseID: id,
			Actor:  actor,
			Action: string(to),
			Note:   note,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("case transitioned",
		zap.String("case", c.CaseNumber), zap.String("status", string(to)))
	return s.Get(ctx, id)
}

// AddNote appends a free-form timeline entry.
func (s *Service) AddNote(ctx context.Context, id uuid.UUID, actor, note string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&aml.CaseTimelineEntry{
		ID:     uuid.New(),
		CaseID: id,
		Actor:  actor,
		Action: "note",
		Note:   note,
	}).Error
}

// FileSAR opens a draft SAR linked to the case. The case must be
// escalated; filing records the link on the case timeline.
func (s *Service) FileSAR(ctx context.Context, caseID uuid.UUID, store *aml.Store, narrative, preparedBy string) (*aml.RegulatoryReport, error) {
	c, err := s.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != aml.CaseEscalated {
		return nil, fmt.Errorf("%w: SAR requires an escalated case, got %s", ErrBadTransition, c.Status)
	}
	r := &aml.RegulatoryReport{
		Type:       aml.ReportSAR,
		CaseID:     &caseID,
		CustomerID: c.CustomerID,
		Narrative:  narrative,
		PreparedBy: preparedBy,
	}
	if err := store.CreateReport(ctx, r); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(&aml.CaseTimelineEntry{
		ID:     uuid.New(),
		CaseID: caseID,
		Actor:  preparedBy,
		Action: "sar_filed",
		Note:   r.ReportNumber,
	}).Error; err != nil {
		return nil, err
	}
	return r, nil
}

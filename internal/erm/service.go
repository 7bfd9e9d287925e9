package erm

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
	// ErrNotFound is returned when a register entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique code or link already exists.
	ErrDuplicate = errors.New("already exists")
	// ErrValidation is returned for semantically invalid input.
	ErrValidation = errors.New("validation failed")
)

// Service implements the risk register: risks, controls, links, categories,
// matrices and assessments.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a register service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Models returns every model this service persists, for migration.
func Models() []any {
	return []any{
		&Risk{}, &RiskCategory{}, &RiskMatrix{}, &Control{},
		&RiskControl{}, &RiskAssessment{},
	}
}

// RiskFilter narrows ListRisks.
type RiskFilter struct {
	Status     RiskStatus
	CategoryID *uint
	Department string
	Limit      int
	Offset     int
}

// CreateRisk assigns the next RISK-YYYY-NNNN identifier, computes the
// inherent score and persists the risk.
func (s *Service) CreateRisk(ctx context.Context, risk *Risk) error {
	if risk.Likelihood < 1 || risk.Likelihood > 5 || risk.Impact < 1 || risk.Impact > 5 {
		return fmt.Errorf("%w: likelihood and impact must be between 1 and 5", ErrValidation)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := nextRiskID(tx)
		if err != nil {
			return err
		}
		risk.ID = id
		if risk.Status == "" {
			risk.Status = RiskStatusDraft
		}
		risk.InherentRiskScore = float64(risk.Likelihood * risk.Impact)
		if risk.ResidualRiskScore == 0 {
			risk.ResidualRiskScore = risk.InherentRiskScore
		}
		return tx.Create(risk).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// concurrent creates racing for the same sequence number
		return fmt.Errorf("risk id %s: %w", risk.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create risk: %w", err)
	}

	s.logger.Info("risk created",
		zap.String("risk_id", risk.ID),
		zap.Float64("inherent_score", risk.InherentRiskScore))
	return nil
}

// nextRiskID produces RISK-<year>-<seq> scoped to the current year. Soft
// deleted rows still count so identifiers are never reused.
func nextRiskID(tx *gorm.DB) (string, error) {
	year := time.Now().Year()
	var count int64
	prefix := fmt.Sprintf("RISK-%d-%%", year)
	if err := tx.Unscoped().Model(&Risk{}).Where("id LIKE ?", prefix).Count(&count).Error; err != nil {
		return "", fmt.Errorf("failed to count risks for id allocation: %w", err)
	}
	return fmt.Sprintf("RISK-%d-%04d", year, count+1), nil
}

// GetRisk loads a risk with its control links and assessments.
func (s *Service) GetRisk(ctx context.Context, id string) (*Risk, error) {
	var risk Risk
	err := s.db.WithContext(ctx).
		Preload("Category").
		Preload("Controls.Control").
		Preload("Assessments").
		First(&risk, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("risk %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load risk %s: %w", id, err)
	}
	return &risk, nil
}

// ListRisks returns register entries matching the filter, newest first.
func (s *Service) ListRisks(ctx context.Context, filter RiskFilter) ([]Risk, int64, error) {
	q := s.db.WithContext(ctx).Model(&Risk{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.CategoryID != nil {
		q = q.Where("category_id = ?", *filter.CategoryID)
	}
	if filter.Department != "" {
		q = q.Where("department = ?", filter.Department)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count risks: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var risks []Risk
	if err := q.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&risks).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list risks: %w", err)
	}
	return risks, total, nil
}

// UpdateRisk applies the given fields and recomputes the inherent score when
// likelihood or impact changed.
func (s *Service) UpdateRisk(ctx context.Context, id string, updates map[string]any) (*Risk, error) {
	risk, err := s.GetRisk(ctx, id)
	if err != nil {
		return nil, err
	}

	if v, ok := intField(updates, "likelihood"); ok {
		if v < 1 || v > 5 {
			return nil, fmt.Errorf("%w: likelihood must be between 1 and 5", ErrValidation)
		}
		risk.Likelihood = v
	}
	if v, ok := intField(updates, "impact"); ok {
		if v < 1 || v > 5 {
			return nil, fmt.Errorf("%w: impact must be between 1 and 5", ErrValidation)
		}
		risk.Impact = v
	}
	if v, ok := updates["title"].(string); ok {
		risk.Title = v
	}
	if v, ok := updates["description"].(string); ok {
		risk.Description = v
	}
	if v, ok := updates["status"].(string); ok {
		status := RiskStatus(v)
		if !validRiskStatus(status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, v)
		}
		risk.Status = status
	}
	if v, ok := updates["risk_owner"].(string); ok {
		risk.RiskOwner = v
	}
	if v, ok := updates["department"].(string); ok {
		risk.Department = v
	}
	risk.InherentRiskScore = float64(risk.Likelihood * risk.Impact)

	if err := s.db.WithContext(ctx).Save(risk).Error; err != nil {
		return nil, fmt.Errorf("failed to update risk %s: %w", id, err)
	}
	return risk, nil
}

// DeleteRisk soft deletes a register entry.
func (s *Service) DeleteRisk(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&Risk{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete risk %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("risk %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateControl persists a control; duplicate codes are rejected.
func (s *Service) CreateControl(ctx context.Context, control *Control) error {
	if control.Code == "" || control.Name == "" {
		return fmt.Errorf("%w: code and name are required", ErrValidation)
	}
	var existing int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&Control{}).
		Where("code = ?", control.Code).Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check control code: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("control code %s: %w", control.Code, ErrDuplicate)
	}

	control.ID = uuid.New()
	if control.Status == "" {
		control.Status = ControlNotTested
	}
	if err := s.db.WithContext(ctx).Create(control).Error; err != nil {
		return fmt.Errorf("failed to create control: %w", err)
	}
	s.logger.Info("control created", zap.String("control_id", control.ID.String()), zap.String("code", control.Code))
	return nil
}

// GetControl loads a control by id.
func (s *Service) GetControl(ctx context.Context, id uuid.UUID) (*Control, error) {
	var control Control
	err := s.db.WithContext(ctx).First(&control, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("control %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load control %s: %w", id, err)
	}
	return &control, nil
}

// ListControls returns controls ordered by code.
func (s *Service) ListControls(ctx context.Context, limit, offset int) ([]Control, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var controls []Control
	if err := s.db.WithContext(ctx).Order("code").Limit(limit).Offset(offset).Find(&controls).Error; err != nil {
		return nil, fmt.Errorf("failed to list controls: %w", err)
	}
	return controls, nil
}

// UpdateControl saves changed control fields and re-derives the residual
// score of every linked risk.
func (s *Service) UpdateControl(ctx context.Context, control *Control) error {
	if err := s.db.WithContext(ctx).Save(control).Error; err != nil {
		return fmt.Errorf("failed to update control %s: %w", control.ID, err)
	}
	return s.recomputeResidualsForControl(ctx, control.ID)
}

// DeleteControl soft deletes a control.
func (s *Service) DeleteControl(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&Control{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete control %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("control %s: %w", id, ErrNotFound)
	}
	return nil
}

// LinkControl attaches a control to a risk and refreshes the residual score.
func (s *Service) LinkControl(ctx context.Context, riskID string, controlID uuid.UUID, coverage float64, criticality string) (*RiskControl, error) {
	if _, err := s.GetRisk(ctx, riskID); err != nil {
		return nil, err
	}
	if _, err := s.GetControl(ctx, controlID); err != nil {
		return nil, err
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&RiskControl{}).
		Where("risk_id = ? AND control_id = ?", riskID, controlID).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to check control link: %w", err)
	}
	if existing > 0 {
		return nil, fmt.Errorf("control link: %w", ErrDuplicate)
	}

	link := &RiskControl{
		ID:                 uuid.New(),
		RiskID:             riskID,
		ControlID:          controlID,
		CoveragePercentage: coverage,
		Criticality:        criticality,
	}
	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		return nil, fmt.Errorf("failed to link control: %w", err)
	}
	if err := s.recomputeResidual(ctx, riskID); err != nil {
		return nil, err
	}
	return link, nil
}

// ListRiskControls returns the control links of a risk.
func (s *Service) ListRiskControls(ctx context.Context, riskID string) ([]RiskControl, error) {
	var links []RiskControl
	if err := s.db.WithContext(ctx).Preload("Control").
		Where("risk_id = ?", riskID).Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list risk controls: %w", err)
	}
	return links, nil
}

// CreateAssessment records a re-scoring and promotes it to the risk's
// residual score.
func (s *Service) CreateAssessment(ctx context.Context, a *RiskAssessment) error {
	if a.Likelihood < 1 || a.Likelihood > 5 || a.Impact < 1 || a.Impact > 5 {
		return fmt.Errorf("%w: likelihood and impact must be between 1 and 5", ErrValidation)
	}
	risk, err := s.GetRisk(ctx, a.RiskID)
	if err != nil {
		return err
	}

	a.ID = uuid.New()
	a.Score = float64(a.Likelihood * a.Impact)
	if a.AssessmentDate.IsZero() {
		a.AssessmentDate = time.Now().UTC()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return fmt.Errorf("failed to create assessment: %w", err)
		}
		risk.ResidualRiskScore = a.Score
		return tx.Model(&Risk{}).Where("id = ?", risk.ID).
			Update("residual_risk_score", a.Score).Error
	})
}

// ListAssessments returns a risk's assessments, newest first.
func (s *Service) ListAssessments(ctx context.Context, riskID string) ([]RiskAssessment, error) {
	var out []RiskAssessment
	if err := s.db.WithContext(ctx).Where("risk_id = ?", riskID).
		Order("assessment_date DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	return out, nil
}

// CreateCategory persists a taxonomy node.
func (s *Service) CreateCategory(ctx context.Context, c *RiskCategory) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}
	return nil
}

// ListCategories returns all categories.
func (s *Service) ListCategories(ctx context.Context) ([]RiskCategory, error) {
	var out []RiskCategory
	if err := s.db.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return out, nil
}

// recomputeResidual re-derives a risk's residual score from its linked
// controls: the inherent score reduced by the best weighted effectiveness.
func (s *Service) recomputeResidual(ctx context.Context, riskID string) error {
	risk, err := s.GetRisk(ctx, riskID)
	if err != nil {
		return err
	}

	var reduction float64
	for _, link := range risk.Controls {
		if link.Control == nil {
			continue
		}
		weighted := link.Control.EffectivenessRating / 100 * link.CoveragePercentage / 100
		if weighted > reduction {
			reduction = weighted
		}
	}
	residual := risk.InherentRiskScore * (1 - reduction)

	return s.db.WithContext(ctx).Model(&Risk{}).Where("id = ?", riskID).
		Update("residual_risk_score", residual).Error
}

func (s *Service) recomputeResidualsForControl(ctx context.Context, controlID uuid.UUID) error {
	var links []RiskControl
	if err := s.db.WithContext(ctx).Where("control_id = ?", controlID).Find(&links).Error; err != nil {
		return fmt.Errorf("failed to load control links: %w", err)
	}
	for _, link := range links {
		if err := s.recomputeResidual(ctx, link.RiskID); err != nil {
			return err
		}
	}
	return nil
}

func validRiskStatus(s RiskStatus) bool {
	switch s {
	case RiskStatusDraft, RiskStatusActive, RiskStatusUnderReview, RiskStatusClosed, RiskStatusArchived:
		return true
	}
	return false
}

func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

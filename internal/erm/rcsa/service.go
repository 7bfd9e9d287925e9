package rcsa

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
	ErrValidation    = errors.New("validation failed")
	ErrBadTransition = errors.New("invalid status transition")
)

// Service runs the RCSA workflow: templates with questions, assessments
// answered per department, scored on submission, with action items.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates an RCSA service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Models returns the RCSA models, for migration.
func Models() []any {
	return []any{&Template{}, &Question{}, &Assessment{}, &Response{}, &ActionItem{}}
}

// CreateTemplate persists a template with its questions.
func (s *Service) CreateTemplate(ctx context.Context, t *Template) error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	t.ID = uuid.New()
	t.IsActive = true
	if t.Frequency == "" {
		t.Frequency = FrequencyQuarterly
	}
	for i := range t.Questions {
		t.Questions[i].ID = uuid.New()
		t.Questions[i].TemplateID = t.ID
		if t.Questions[i].Type == "" {
			t.Questions[i].Type = QuestionText
		}
		if t.Questions[i].Weight <= 0 {
			t.Questions[i].Weight = 1
		}
		if t.Questions[i].OrderNumber == 0 {
			t.Questions[i].OrderNumber = i + 1
		}
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetTemplate loads a template with ordered questions.
func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	var t Template
	err := s.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("order_number") }).
		First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", id, err)
	}
	return &t, nil
}

// ListTemplates returns active templates.
func (s *Service) ListTemplates(ctx context.Context, includeInactive bool) ([]Template, error) {
	q := s.db.WithContext(ctx).Model(&Template{})
	if !includeInactive {
		q = q.Where("is_active = ?", true)
	}
	var out []Template
	if err := q.Order("name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return out, nil
}

// StartAssessment creates an assessment from a template and moves it to
// in_progress.
func (s *Service) StartAssessment(ctx context.Context, templateID uuid.UUID, title, department, period, assessor string, dueDate *time.Time) (*Assessment, error) {
	t, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if department == "" {
		return nil, fmt.Errorf("%w: department is required", ErrValidation)
	}

	var maxScore float64
	for _, q := range t.Questions {
		if q.Type != QuestionText {
			maxScore += q.Weight * 5
		}
	}

	now := time.Now().UTC()
	a := &Assessment{
		ID:               uuid.New(),
		TemplateID:       templateID,
		Title:            title,
		Department:       department,
		Period:           period,
		Status:           StatusInProgress,
		StartedDate:      &now,
		DueDate:          dueDate,
		AssessorID:       assessor,
		MaxPossibleScore: maxScore,
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, fmt.Errorf("failed to create assessment: %w", err)
	}
	s.logger.Info("rcsa assessment started",
		zap.String("assessment_id", a.ID.String()), zap.String("department", department))
	return a, nil
}

// GetAssessment loads an assessment with template, responses and action
// items.
func (s *Service) GetAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	var a Assessment
	err := s.db.WithContext(ctx).
		Preload("Template.Questions", func(db *gorm.DB) *gorm.DB { return db.Order("order_number") }).
		Preload("Responses").
		Preload("ActionItems").
		First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("assessment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load assessment %s: %w", id, err)
	}
	return &a, nil
}

// ListAssessments filters by department and status.
func (s *Service) ListAssessments(ctx context.Context, department string, status AssessmentStatus) ([]Assessment, error) {
	q := s.db.WithContext(ctx).Model(&Assessment{})
	if department != "" {
		q = q.Where("department = ?", department)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []Assessment
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	return out, nil
}

// Respond records or replaces the answer to one question and refreshes the
// assessment's completion percentage.
func (s *Service) Respond(ctx context.Context, assessmentID uuid.UUID, r *Response) error {
	a, err := s.GetAssessment(ctx, assessmentID)
	if err != nil {
		return err
	}
	if a.Status != StatusInProgress {
		return fmt.Errorf("%w: assessment is %s", ErrBadTransition, a.Status)
	}

	var question *Question
	for i := range a.Template.Questions {
		if a.Template.Questions[i].ID == r.QuestionID {
			question = &a.Template.Questions[i]
			break
		}
	}
	if question == nil {
		return fmt.Errorf("question %s: %w", r.QuestionID, ErrNotFound)
	}

	r.Score = scoreResponse(question, r)
	r.AssessmentID = assessmentID
	if r.RespondedAt.IsZero() {
		r.RespondedAt = time.Now().UTC()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Response
		err := tx.Where("assessment_id = ? AND question_id = ?", assessmentID, r.QuestionID).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			r.ID = uuid.New()
			if err := tx.Create(r).Error; err != nil {
				return fmt.Errorf("failed to save response: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to check existing response: %w", err)
		default:
			r.ID = existing.ID
			if err := tx.Save(r).Error; err != nil {
				return fmt.Errorf("failed to replace response: %w", err)
			}
		}

		var answered int64
		if err := tx.Model(&Response{}).Where("assessment_id = ?", assessmentID).Count(&answered).Error; err != nil {
			return err
		}
		percent := 0.0
		if n := len(a.Template.Questions); n > 0 {
			percent = float64(answered) / float64(n) * 100
		}
		return tx.Model(&Assessment{}).Where("id = ?", assessmentID).
			Update("completion_percent", percent).Error
	})
}

// scoreResponse converts an answer into weighted points. Rating answers
// score weight*rating, booleans weight*5 for yes, text is unscored.
func scoreResponse(q *Question, r *Response) float64 {
	switch q.Type {
	case QuestionRating:
		if r.RatingValue == nil {
			return 0
		}
		rating := *r.RatingValue
		if rating < 1 {
			rating = 1
		}
		if rating > 5 {
			rating = 5
		}
		return q.Weight * float64(rating)
	case QuestionBoolean:
		if r.BooleanValue != nil && *r.BooleanValue {
			return q.Weight * 5
		}
		return 0
	default:
		return 0
	}
}

// Submit validates mandatory questions are answered, totals the score and
// moves the assessment to submitted.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	a, err := s.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusInProgress {
		return nil, fmt.Errorf("%w: assessment is %s", ErrBadTransition, a.Status)
	}

	answered := make(map[uuid.UUID]*Response, len(a.Responses))
	for i := range a.Responses {
		answered[a.Responses[i].QuestionID] = &a.Responses[i]
	}
	for _, q := range a.Template.Questions {
		if q.IsMandatory && answered[q.ID] == nil {
			return nil, fmt.Errorf("%w: mandatory question %q unanswered", ErrValidation, q.Text)
		}
	}

	var total float64
	for _, r := range a.Responses {
		total += r.Score
	}
	now := time.Now().UTC()
	a.TotalScore = total
	a.Status = StatusSubmitted
	a.CompletedDate = &now

	if err := s.db.WithContext(ctx).Model(&Assessment{}).Where("id = ?", id).Updates(map[string]any{
		"total_score":    total,
		"status":         StatusSubmitted,
		"completed_date": now,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to submit assessment: %w", err)
	}
	return a, nil
}

// Approve moves a submitted assessment to approved.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, reviewer string) (*Assessment, error) {
	a, err := s.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusSubmitted {
		return nil, fmt.Errorf("%w: assessment is %s", ErrBadTransition, a.Status)
	}
	a.Status = StatusApproved
	a.ReviewerID = reviewer
	if err := s.db.WithContext(ctx).Model(&Assessment{}).Where("id = ?", id).Updates(map[string]any{
		"status":      StatusApproved,
		"reviewer_id": reviewer,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to approve assessment: %w", err)
	}
	return a, nil
}

// AddActionItem attaches remediation to an assessment.
func (s *Service) AddActionItem(ctx context.Context, assessmentID uuid.UUID, item *ActionItem) error {
	if _, err := s.GetAssessment(ctx, assessmentID); err != nil {
		return err
	}
	if item.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	item.ID = uuid.New()
	item.AssessmentID = assessmentID
	if item.Severity == "" {
		item.Severity = "medium"
	}
	if item.Status == "" {
		item.Status = "open"
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("failed to create action item: %w", err)
	}
	return nil
}

// CompleteActionItem marks an item done.
func (s *Service) CompleteActionItem(ctx context.Context, itemID uuid.UUID) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&ActionItem{}).Where("id = ?", itemID).Updates(map[string]any{
		"status":       "completed",
		"completed_at": now,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to complete action item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("action item %s: %w", itemID, ErrNotFound)
	}
	return nil
}

// MarkOverdue flips in-progress assessments past their due date to overdue.
// Called by the report scheduler's poll loop.
func (s *Service) MarkOverdue(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Assessment{}).
		Where("status = ? AND due_date IS NOT NULL AND due_date < ?", StatusInProgress, time.Now().UTC()).
		Update("status", StatusOverdue)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark overdue assessments: %w", res.Error)
	}
	return res.RowsAffected, nil
}

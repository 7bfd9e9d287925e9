package rcsa

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssessmentStatus is the workflow state of an assessment.
type AssessmentStatus string

const (
	StatusDraft      AssessmentStatus = "draft"
	StatusScheduled  AssessmentStatus = "scheduled"
	StatusInProgress AssessmentStatus = "in_progress"
	StatusSubmitted  AssessmentStatus = "submitted"
	StatusApproved   AssessmentStatus = "approved"
	StatusOverdue    AssessmentStatus = "overdue"
)

// Frequency is how often a template is assessed.
type Frequency string

const (
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiAnnual Frequency = "semi_annual"
	FrequencyAnnual     Frequency = "annual"
)

// QuestionType drives which response field is scored.
type QuestionType string

const (
	QuestionText    QuestionType = "text"
	QuestionRating  QuestionType = "rating"
	QuestionBoolean QuestionType = "boolean"
)

// Template is a reusable self-assessment questionnaire.
type Template struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Department  string    `json:"department"`
	Frequency   Frequency `gorm:"size:15;default:quarterly" json:"frequency"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	CreatedBy   string    `json:"created_by"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Questions []Question `gorm:"foreignKey:TemplateID" json:"questions,omitempty"`
}

// Question belongs to a template. Weight feeds assessment scoring.
type Question struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	TemplateID  uuid.UUID    `gorm:"type:uuid;index;not null" json:"template_id"`
	Text        string       `gorm:"type:text;not null" json:"text"`
	Category    string       `json:"category"`
	Type        QuestionType `gorm:"size:15;default:text" json:"type"`
	IsMandatory bool         `json:"is_mandatory"`
	Weight      float64      `gorm:"default:1" json:"weight"`
	OrderNumber int          `gorm:"default:0" json:"order_number"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Assessment is one execution of a template for a department and period.
type Assessment struct {
	ID         uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	TemplateID uuid.UUID        `gorm:"type:uuid;index;not null" json:"template_id"`
	Title      string           `gorm:"not null" json:"title"`
	Department string           `gorm:"not null;index" json:"department"`
	Period     string           `json:"period"` // e.g. "Q3 2026"
	Status     AssessmentStatus `gorm:"size:15;default:draft;index" json:"status"`

	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	StartedDate   *time.Time `json:"started_date,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`

	AssessorID string `json:"assessor_id"`
	ReviewerID string `json:"reviewer_id"`

	TotalScore        float64 `json:"total_score"`
	MaxPossibleScore  float64 `json:"max_possible_score"`
	CompletionPercent float64 `json:"completion_percent"`
	ExecutiveSummary  string  `gorm:"type:text" json:"executive_summary"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Template    *Template    `gorm:"foreignKey:TemplateID" json:"template,omitempty"`
	Responses   []Response   `gorm:"foreignKey:AssessmentID" json:"responses,omitempty"`
	ActionItems []ActionItem `gorm:"foreignKey:AssessmentID" json:"action_items,omitempty"`
}

// Response answers one question inside an assessment.
type Response struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AssessmentID uuid.UUID `gorm:"type:uuid;index:idx_assessment_question,unique;not null" json:"assessment_id"`
	QuestionID   uuid.UUID `gorm:"type:uuid;index:idx_assessment_question,unique;not null" json:"question_id"`

	Text         string `gorm:"type:text" json:"text"`
	RatingValue  *int   `json:"rating_value,omitempty"` // 1-5 for rating questions
	BooleanValue *bool  `json:"boolean_value,omitempty"`
	Comments     string `gorm:"type:text" json:"comments"`

	Score       float64   `json:"score"`
	RespondedBy string    `json:"responded_by"`
	RespondedAt time.Time `json:"responded_at"`
}

// ActionItem tracks remediation arising from an assessment.
type ActionItem struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	AssessmentID uuid.UUID  `gorm:"type:uuid;index;not null" json:"assessment_id"`
	Title        string     `gorm:"not null" json:"title"`
	Description  string     `gorm:"type:text" json:"description"`
	Severity     string     `gorm:"size:10;default:medium" json:"severity"`
	AssignedTo   string     `json:"assigned_to"`
	Status       string     `gorm:"size:15;default:open" json:"status"` // open, in_progress, completed
	DueDate      *time.Time `json:"due_date,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

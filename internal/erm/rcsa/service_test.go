package rcsa

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(Models()...))
	return NewService(db, zap.NewNop())
}

func seedTemplate(t *testing.T, svc *Service) *Template {
	t.Helper()
	tpl := &Template{
		Name:       "Quarterly operational RCSA",
		Department: "Finance",
		Questions: []Question{
			{Text: "Are reconciliations performed daily?", Type: QuestionBoolean, Weight: 2, IsMandatory: true},
			{Text: "Rate the control environment", Type: QuestionRating, Weight: 1, IsMandatory: true},
			{Text: "Describe open issues", Type: QuestionText},
		},
	}
	require.NoError(t, svc.CreateTemplate(context.Background(), tpl))
	return tpl
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestStartAssessmentComputesMaxScore(t *testing.T) {
	svc := newTestService(t)
	tpl := seedTemplate(t, svc)

	a, err := svc.StartAssessment(context.Background(), tpl.ID, "Q3 review", "Finance", "Q3 2026", "assessor1", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, a.Status)
	// boolean weight 2 * 5 + rating weight 1 * 5 = 15; text questions unscored
	assert.Equal(t, 15.0, a.MaxPossibleScore)
}

func TestRespondScoresAndTracksCompletion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	tpl := seedTemplate(t, svc)
	a, err := svc.StartAssessment(ctx, tpl.ID, "Q3 review", "Finance", "Q3 2026", "assessor1", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Respond(ctx, a.ID, &Response{
		QuestionID: tpl.Questions[0].ID, BooleanValue: boolPtr(true),
	}))
	require.NoError(t, svc.Respond(ctx, a.ID, &Response{
		QuestionID: tpl.Questions[1].ID, RatingValue: intPtr(4),
	}))

	loaded, err := svc.GetAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.InDelta(t, 66.67, loaded.CompletionPercent, 0.1)

	// answering again replaces, not duplicates
	require.NoError(t, svc.Respond(ctx, a.ID, &Response{
		QuestionID: tpl.Questions[1].ID, RatingValue: intPtr(2),
	}))
	loaded, err = svc.GetAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Responses, 2)
}

func TestSubmitRequiresMandatoryAnswers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	tpl := seedTemplate(t, svc)
	a, err := svc.StartAssessment(ctx, tpl.ID, "Q3 review", "Finance", "Q3 2026", "assessor1", nil)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, a.ID)
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, svc.Respond(ctx, a.ID, &Response{QuestionID: tpl.Questions[0].ID, BooleanValue: boolPtr(true)}))
	require.NoError(t, svc.Respond(ctx, a.ID, &Response{QuestionID: tpl.Questions[1].ID, RatingValue: intPtr(3)}))

	submitted, err := svc.Submit(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, submitted.Status)
	// boolean yes: 2*5=10, rating 3: 1*3=3
	assert.Equal(t, 13.0, submitted.TotalScore)
	assert.NotNil(t, submitted.CompletedDate)

	// no responding after submission
	err = svc.Respond(ctx, a.ID, &Response{QuestionID: tpl.Questions[2].ID, Text: "late"})
	assert.ErrorIs(t, err, ErrBadTransition)
}

func TestApproveOnlyFromSubmitted(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	tpl := seedTemplate(t, svc)
	a, err := svc.StartAssessment(ctx, tpl.ID, "Q3 review", "Finance", "Q3 2026", "assessor1", nil)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, a.ID, "reviewer1")
	assert.ErrorIs(t, err, ErrBadTransition)

	require.NoError(t, svc.Respond(ctx, a.ID, &Response{QuestionID: tpl.Questions[0].ID, BooleanValue: boolPtr(false)}))
	require.NoError(t, svc.Respond(ctx, a.ID, &Response{QuestionID: tpl.Questions[1].ID, RatingValue: intPtr(5)}))
	_, err = svc.Submit(ctx, a.ID)
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, a.ID, "reviewer1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, "reviewer1", approved.ReviewerID)
}

func TestActionItems(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	tpl := seedTemplate(t, svc)
	a, err := svc.StartAssessment(ctx, tpl.ID, "Q3 review", "Finance", "Q3 2026", "assessor1", nil)
	require.NoError(t, err)

	item := &ActionItem{Title: "Automate reconciliation", AssignedTo: "jmulenga"}
	require.NoError(t, svc.AddActionItem(ctx, a.ID, item))
	assert.Equal(t, "open", item.Status)

	require.NoError(t, svc.CompleteActionItem(ctx, item.ID))
	loaded, err := svc.GetAssessment(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, loaded.ActionItems, 1)
	assert.Equal(t, "completed", loaded.ActionItems[0].Status)
	assert.NotNil(t, loaded.ActionItems[0].CompletedAt)

	err = svc.CompleteActionItem(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkOverdue(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	tpl := seedTemplate(t, svc)

	past := time.Now().UTC().Add(-48 * time.Hour)
	a, err := svc.StartAssessment(ctx, tpl.ID, "Late review", "Finance", "Q2 2026", "assessor1", &past)
	require.NoError(t, err)

	n, err := svc.MarkOverdue(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	loaded, err := svc.GetAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOverdue, loaded.Status)
}

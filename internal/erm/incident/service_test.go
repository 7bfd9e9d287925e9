package incident

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

func mustReport(t *testing.T, svc *Service, title string, sev Severity) *Incident {
	t.Helper()
	inc := &Incident{
		Title:      title,
		Type:       TypeOperationalError,
		Severity:   sev,
		DetectedAt: time.Now().UTC().Add(-time.Hour),
		ReportedBy: "jmulenga",
	}
	require.NoError(t, svc.Create(context.Background(), inc))
	return inc
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	svc := newTestService(t)

	first := mustReport(t, svc, "Batch job failure", SeverityMedium)
	second := mustReport(t, svc, "Reconciliation mismatch", SeverityLow)

	year := time.Now().Year()
	assert.Equal(t, fmt.Sprintf("INC-%d-0001", year), first.IncidentNumber)
	assert.Equal(t, fmt.Sprintf("INC-%d-0002", year), second.IncidentNumber)
	assert.Equal(t, StatusOpen, first.Status)

	loaded, err := svc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Timeline, 1)
	assert.Equal(t, "reported", loaded.Timeline[0].Action)
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	err := svc.Create(ctx, &Incident{Type: TypeDataLoss, Severity: SeverityHigh, DetectedAt: time.Now()})
	assert.ErrorIs(t, err, ErrValidation)

	err = svc.Create(ctx, &Incident{Title: "No detection time", Type: TypeDataLoss, Severity: SeverityHigh})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLifecycleTransitions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := mustReport(t, svc, "Unauthorized access attempt", SeverityCritical)

	// cannot skip investigation
	_, err := svc.Transition(ctx, inc.ID, StatusContained, "analyst", "")
	assert.ErrorIs(t, err, ErrBadTransition)

	cur, err := svc.Transition(ctx, inc.ID, StatusInvestigating, "analyst", "triaged")
	require.NoError(t, err)
	assert.Equal(t, StatusInvestigating, cur.Status)

	cur, err = svc.Transition(ctx, inc.ID, StatusContained, "analyst", "access revoked")
	require.NoError(t, err)
	require.NotNil(t, cur.ContainedAt)

	cur, err = svc.Transition(ctx, inc.ID, StatusResolved, "analyst", "")
	require.NoError(t, err)
	require.NotNil(t, cur.ResolvedAt)

	cur, err = svc.Transition(ctx, inc.ID, StatusClosed, "manager", "post-mortem filed")
	require.NoError(t, err)
	require.NotNil(t, cur.ClosedAt)

	// closed is terminal
	_, err = svc.Transition(ctx, inc.ID, StatusInvestigating, "analyst", "")
	assert.ErrorIs(t, err, ErrBadTransition)

	// reported + 4 transitions
	assert.Len(t, cur.Timeline, 5)
}

func TestResolvedCanReopen(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := mustReport(t, svc, "Vendor outage", SeverityHigh)

	_, err := svc.Transition(ctx, inc.ID, StatusInvestigating, "analyst", "")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, inc.ID, StatusResolved, "analyst", "")
	require.NoError(t, err)

	cur, err := svc.Transition(ctx, inc.ID, StatusInvestigating, "analyst", "issue recurred")
	require.NoError(t, err)
	assert.Equal(t, StatusInvestigating, cur.Status)
}

func TestUpdateFiltersFields(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := mustReport(t, svc, "Data quality issue", SeverityMedium)

	updated, err := svc.Update(ctx, inc.ID, map[string]any{
		"root_cause":        "upstream feed schema change",
		"regulatory_breach": true,
		"incident_number":   "INC-9999-0001", // not updatable
		"status":            StatusClosed,    // not updatable here
	})
	require.NoError(t, err)
	assert.Equal(t, "upstream feed schema change", updated.RootCause)
	assert.True(t, updated.RegulatoryBreach)
	assert.Equal(t, inc.IncidentNumber, updated.IncidentNumber)
	assert.Equal(t, StatusOpen, updated.Status)
}

func TestListFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	mustReport(t, svc, "A", SeverityLow)
	b := mustReport(t, svc, "B", SeverityCritical)
	mustReport(t, svc, "C", SeverityCritical)
	_, err := svc.Transition(ctx, b.ID, StatusInvestigating, "analyst", "")
	require.NoError(t, err)

	crit, err := svc.List(ctx, "", SeverityCritical, 0, 0)
	require.NoError(t, err)
	assert.Len(t, crit, 2)

	open, err := svc.List(ctx, StatusOpen, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	openCrit, err := svc.List(ctx, StatusOpen, SeverityCritical, 0, 0)
	require.NoError(t, err)
	assert.Len(t, openCrit, 1)
}

func TestAddNote(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := mustReport(t, svc, "Phishing report", SeverityLow)

	require.NoError(t, svc.AddNote(ctx, inc.ID, "analyst", "user confirmed no credentials entered"))

	loaded, err := svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Timeline, 2)
	assert.Equal(t, "note", loaded.Timeline[1].Action)

	err = svc.AddNote(ctx, uuid.New(), "analyst", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

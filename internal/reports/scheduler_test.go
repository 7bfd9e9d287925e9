package reports

import (
	"context"
	"errors"
	"fmt"
	"os"
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

func newTestScheduler(t *testing.T, src *fakeSources) (*Scheduler, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(Models()...))

	gen := NewGenerator(src, src, src, zap.NewNop())
	return NewScheduler(db, gen, t.TempDir(), time.Minute, zap.NewNop()), db
}

func TestCreateScheduleValidation(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeSources{})
	ctx := context.Background()

	err := s.CreateSchedule(ctx, &ScheduledReport{Kind: KindRiskRegister, Format: FormatCSV, Frequency: FrequencyDaily})
	assert.ErrorIs(t, err, ErrValidation)

	err = s.CreateSchedule(ctx, &ScheduledReport{Name: "r", Kind: KindRiskRegister, Format: FormatCSV, Frequency: "fortnightly"})
	assert.ErrorIs(t, err, ErrValidation)

	err = s.CreateSchedule(ctx, &ScheduledReport{Name: "r", Kind: "bogus", Format: FormatCSV, Frequency: FrequencyDaily})
	assert.ErrorIs(t, err, ErrUnknownKind)

	err = s.CreateSchedule(ctx, &ScheduledReport{Name: "r", Kind: KindRiskRegister, Format: "docx", Frequency: FrequencyDaily})
	assert.ErrorIs(t, err, ErrUnknownFormat)

	sched := &ScheduledReport{Name: "weekly register", Kind: KindRiskRegister, Format: FormatCSV, Frequency: FrequencyWeekly}
	require.NoError(t, s.CreateSchedule(ctx, sched))
	assert.True(t, sched.Enabled)
	assert.WithinDuration(t, time.Now().UTC().Add(7*24*time.Hour), sched.NextRunAt, time.Minute)
}

func TestPollExecutesDueSchedules(t *testing.T) {
	s, db := newTestScheduler(t, &fakeSources{})
	ctx := context.Background()

	sched := &ScheduledReport{Name: "daily register", Kind: KindRiskRegister, Format: FormatCSV, Frequency: FrequencyDaily}
	require.NoError(t, s.CreateSchedule(ctx, sched))

	// not due yet: nothing runs
	s.Poll(ctx)
	runs, err := s.Runs(ctx, sched.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	// backdate and poll again
	require.NoError(t, db.Model(&ScheduledReport{}).Where("id = ?", sched.ID).
		Update("next_run_at", time.Now().UTC().Add(-time.Hour)).Error)
	s.Poll(ctx)

	runs, err = s.Runs(ctx, sched.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Succeeded)
	assert.Positive(t, runs[0].SizeBytes)

	data, err := os.ReadFile(runs[0].OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Title")

	// schedule advanced roughly a day
	var after ScheduledReport
	require.NoError(t, db.First(&after, "id = ?", sched.ID).Error)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), after.NextRunAt, time.Minute)
	assert.NotNil(t, after.LastRunAt)

	// only one run per poll even though the window was missed by an hour
	s.Poll(ctx)
	runs, err = s.Runs(ctx, sched.ID, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestClaimRunsWindowOnce(t *testing.T) {
	s, db := newTestScheduler(t, &fakeSources{})
	ctx := context.Background()

	sched := &ScheduledReport{Name: "daily register", Kind: KindRiskRegister, Format: FormatCSV, Frequency: FrequencyDaily}
	require.NoError(t, s.CreateSchedule(ctx, sched))
	require.NoError(t, db.Model(&ScheduledReport{}).Where("id = ?", sched.ID).
		Update("next_run_at", time.Now().UTC().Add(-time.Hour)).Error)

	var due ScheduledReport
	require.NoError(t, db.First(&due, "id = ?", sched.ID).Error)
	snapshot := due

	claimed, err := s.claim(ctx, &due)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.True(t, due.NextRunAt.After(time.Now().UTC()))

	// a second poller holding the same snapshot loses the window
	claimed, err = s.claim(ctx, &snapshot)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestPollRecordsFailures(t *testing.T) {
	src := &fakeSources{err: errors.New("source down")}
	s, db := newTestScheduler(t, src)
	ctx := context.Background()

	sched := &ScheduledReport{Name: "hourly kris", Kind: KindKRIStatus, Format: FormatXLSX, Frequency: FrequencyHourly}
	require.NoError(t, s.CreateSchedule(ctx, sched))
	require.NoError(t, db.Model(&ScheduledReport{}).Where("id = ?", sched.ID).
		Update("next_run_at", time.Now().UTC().Add(-time.Minute)).Error)

	s.Poll(ctx)

	runs, err := s.Runs(ctx, sched.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Succeeded)
	assert.Contains(t, runs[0].Error, "source down")

	var after ScheduledReport
	require.NoError(t, db.First(&after, "id = ?", sched.ID).Error)
	assert.Contains(t, after.LastError, "source down")
	// failures still advance the schedule
	assert.True(t, after.NextRunAt.After(time.Now().UTC()))

	// a later success clears the error
	src.err = nil
	require.NoError(t, db.Model(&ScheduledReport{}).Where("id = ?", sched.ID).
		Update("next_run_at", time.Now().UTC().Add(-time.Minute)).Error)
	s.Poll(ctx)
	require.NoError(t, db.First(&after, "id = ?", sched.ID).Error)
	assert.Empty(t, after.LastError)
}

func TestDisabledSchedulesAreSkipped(t *testing.T) {
	s, db := newTestScheduler(t, &fakeSources{})
	ctx := context.Background()

	sched := &ScheduledReport{Name: "alerts", Kind: KindAlertSummary, Format: FormatPDF, Frequency: FrequencyDaily}
	require.NoError(t, s.CreateSchedule(ctx, sched))
	require.NoError(t, s.SetEnabled(ctx, sched.ID, false))
	require.NoError(t, db.Model(&ScheduledReport{}).Where("id = ?", sched.ID).
		Update("next_run_at", time.Now().UTC().Add(-time.Hour)).Error)

	s.Poll(ctx)
	runs, err := s.Runs(ctx, sched.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestMaintenanceHookRunsOnPoll(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeSources{})

	calls := 0
	s.AddMaintenanceHook(func(ctx context.Context) error {
		calls++
		return nil
	})
	// hook errors are logged, not fatal
	s.AddMaintenanceHook(func(ctx context.Context) error {
		return errors.New("sweep failed")
	})

	s.Poll(context.Background())
	s.Poll(context.Background())
	assert.Equal(t, 2, calls)
}

func TestScheduleNotFound(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeSources{})
	ctx := context.Background()

	assert.ErrorIs(t, s.SetEnabled(ctx, uuid.New(), true), ErrNotFound)
	assert.ErrorIs(t, s.DeleteSchedule(ctx, uuid.New()), ErrNotFound)
}

func TestNextRunMonthly(t *testing.T) {
	from := time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC)
	next := nextRun(from, FrequencyMonthly)
	// Jan 31 + 1 month clamps into March per AddDate
	assert.Equal(t, time.March, next.Month())
}

package reports

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/napsa-zm/erm-platform/pkg/metrics"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// Frequency is how often a scheduled report runs.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ScheduledReport is a recurring report definition.
type ScheduledReport struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Kind      Kind      `gorm:"size:20;not null" json:"kind"`
	Format    Format    `gorm:"size:5;not null" json:"format"`
	Frequency Frequency `gorm:"size:10;not null" json:"frequency"`
	Enabled   bool      `json:"enabled"`

	NextRunAt time.Time  `gorm:"index" json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReportRun records one execution of a schedule.
type ReportRun struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ScheduleID  uuid.UUID  `gorm:"type:uuid;index;not null" json:"schedule_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Succeeded   bool       `json:"succeeded"`
	OutputPath  string     `json:"output_path,omitempty"`
	SizeBytes   int        `json:"size_bytes"`
	Error       string     `json:"error,omitempty"`
}

// Models returns the scheduler models, for migration.
func Models() []any {
	return []any{&ScheduledReport{}, &ReportRun{}}
}

// MaintenanceHook runs alongside each scheduler poll. The RCSA service
// hangs its overdue sweep here.
type MaintenanceHook func(ctx context.Context) error

// Scheduler polls for due schedules and writes rendered reports to the
// output directory.
type Scheduler struct {
	db        *gorm.DB
	generator *Generator
	logger    *zap.Logger

	outputDir    string
	pollInterval time.Duration
	hooks        []MaintenanceHook

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler polling every pollInterval (default 5m).
func NewScheduler(db *gorm.DB, generator *Generator, outputDir string, pollInterval time.Duration, logger *zap.Logger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	if outputDir == "" {
		outputDir = "reports"
	}
	return &Scheduler{
		db:           db,
		generator:    generator,
		logger:       logger,
		outputDir:    outputDir,
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
	}
}

// AddMaintenanceHook registers a function to run on every poll. Must be
// called before Start.
func (s *Scheduler) AddMaintenanceHook(h MaintenanceHook) {
	s.hooks = append(s.hooks, h)
}

// CreateSchedule validates and persists a schedule, computing its first
// due time from now.
func (s *Scheduler) CreateSchedule(ctx context.Context, r *ScheduledReport) error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if _, err := interval(r.Frequency); err != nil {
		return err
	}
	switch r.Kind {
	case KindRiskRegister, KindKRIStatus, KindAlertSummary:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, r.Kind)
	}
	switch r.Format {
	case FormatCSV, FormatXLSX, FormatPDF:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, r.Format)
	}

	r.ID = uuid.New()
	r.Enabled = true
	r.NextRunAt = nextRun(time.Now().UTC(), r.Frequency)
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// ListSchedules returns all schedules.
func (s *Scheduler) ListSchedules(ctx context.Context) ([]ScheduledReport, error) {
	var out []ScheduledReport
	if err := s.db.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return out, nil
}

// SetEnabled toggles a schedule.
func (s *Scheduler) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&ScheduledReport{}).Where("id = ?", id).
		Update("enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("failed to toggle schedule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteSchedule removes a schedule; its run history is kept.
func (s *Scheduler) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&ScheduledReport{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete schedule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// Runs returns the newest runs for one schedule.
func (s *Scheduler) Runs(ctx context.Context, scheduleID uuid.UUID, limit int) ([]ReportRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []ReportRun
	if err := s.db.WithContext(ctx).Where("schedule_id = ?", scheduleID).
		Order("started_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return out, nil
}

// Start launches the poll loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Poll(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the poll loop and waits for an in-flight poll to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Poll runs maintenance hooks, then executes every enabled schedule whose
// NextRunAt has passed. A missed window runs on the next poll rather than
// firing multiple catch-up runs.
func (s *Scheduler) Poll(ctx context.Context) {
	for _, h := range s.hooks {
		if err := h(ctx); err != nil {
			s.logger.Warn("maintenance hook failed", zap.Error(err))
		}
	}

	var due []ScheduledReport
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at <= ?", true, time.Now().UTC()).
		Find(&due).Error; err != nil {
		s.logger.Error("failed to query due schedules", zap.Error(err))
		return
	}
	for i := range due {
		claimed, err := s.claim(ctx, &due[i])
		if err != nil {
			s.logger.Error("failed to claim schedule",
				zap.String("schedule", due[i].Name), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		s.execute(ctx, &due[i])
	}
}

// claim advances the schedule's due time with a compare-and-set so that
// pollers sharing the database run each window exactly once. Returns false
// when another poller won the window.
func (s *Scheduler) claim(ctx context.Context, sched *ScheduledReport) (bool, error) {
	next := nextRun(time.Now().UTC(), sched.Frequency)
	res := s.db.WithContext(ctx).Model(&ScheduledReport{}).
		Where("id = ? AND next_run_at = ?", sched.ID, sched.NextRunAt).
		Update("next_run_at", next)
	if res.Error != nil {
		return false, res.Error
	}
	sched.NextRunAt = next
	return res.RowsAffected > 0, nil
}

func (s *Scheduler) execute(ctx context.Context, sched *ScheduledReport) {
	run := ReportRun{
		ID:         uuid.New(),
		ScheduleID: sched.ID,
		StartedAt:  time.Now().UTC(),
	}

	doc, err := s.generator.Generate(ctx, sched.Kind, sched.Format)
	if err == nil {
		err = s.writeOutput(doc, &run)
	}

	now := time.Now().UTC()
	run.CompletedAt = &now
	status := "ok"
	if err != nil {
		status = "failed"
		run.Error = err.Error()
		sched.LastError = err.Error()
		s.logger.Error("scheduled report failed",
			zap.String("schedule", sched.Name), zap.Error(err))
	} else {
		run.Succeeded = true
		sched.LastError = ""
	}
	metrics.ScheduledReportRuns.WithLabelValues(status).Inc()

	sched.LastRunAt = &now

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		s.logger.Error("failed to record report run", zap.Error(err))
	}
	// NextRunAt was already advanced by the claim.
	if err := s.db.WithContext(ctx).Model(&ScheduledReport{}).Where("id = ?", sched.ID).
		Updates(map[string]any{
			"last_run_at": sched.LastRunAt,
			"last_error":  sched.LastError,
		}).Error; err != nil {
		s.logger.Error("failed to record schedule outcome", zap.Error(err))
	}
}

func (s *Scheduler) writeOutput(doc *Document, run *ReportRun) error {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(s.outputDir, doc.Filename)
	if err := os.WriteFile(path, doc.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	run.OutputPath = path
	run.SizeBytes = len(doc.Data)
	return nil
}

func interval(f Frequency) (time.Duration, error) {
	switch f {
	case FrequencyHourly:
		return time.Hour, nil
	case FrequencyDaily:
		return 24 * time.Hour, nil
	case FrequencyWeekly:
		return 7 * 24 * time.Hour, nil
	case FrequencyMonthly:
		return 0, nil // calendar month, handled in nextRun
	default:
		return 0, fmt.Errorf("%w: unknown frequency %q", ErrValidation, f)
	}
}

// nextRun advances from the given instant by one frequency step. Monthly
// uses calendar months so the 31st clamps per time.AddDate rules.
func nextRun(from time.Time, f Frequency) time.Time {
	if f == FrequencyMonthly {
		return from.AddDate(0, 1, 0)
	}
	d, err := interval(f)
	if err != nil {
		d = 24 * time.Hour
	}
	return from.Add(d)
}

package aml

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
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("already exists")
	ErrValidation = errors.New("validation failed")
	// ErrBadTransition is returned for illegal report lifecycle moves.
	ErrBadTransition = errors.New("invalid status transition")
)

// Store persists the AML domain: customers, transactions, alerts and
// regulatory reports.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates an AML store.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateCustomer persists a KYC profile; customer numbers are unique.
func (s *Store) CreateCustomer(ctx context.Context, c *CustomerProfile) error {
	if c.CustomerNumber == "" || c.FullName == "" {
		return fmt.Errorf("%w: customer_number and full_name are required", ErrValidation)
	}
	var existing int64
	if err := s.db.WithContext(ctx).Unscoped().Model(&CustomerProfile{}).
		Where("customer_number = ?", c.CustomerNumber).Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check customer number: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("customer %s: %w", c.CustomerNumber, ErrDuplicate)
	}
	c.ID = uuid.New()
	if c.RiskRating == "" {
		c.RiskRating = RiskLow
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// GetCustomer loads a profile by id.
func (s *Store) GetCustomer(ctx context.Context, id uuid.UUID) (*CustomerProfile, error) {
	var c CustomerProfile
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load customer %s: %w", id, err)
	}
	return &c, nil
}

// ListCustomers returns profiles filtered by risk rating.
func (s *Store) ListCustomers(ctx context.Context, rating RiskRating, limit, offset int) ([]CustomerProfile, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&CustomerProfile{})
	if rating != "" {
		q = q.Where("risk_rating = ?", rating)
	}
	var out []CustomerProfile
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return out, nil
}

// UpdateCustomerRisk records a screening outcome on the profile.
func (s *Store) UpdateCustomerRisk(ctx context.Context, id uuid.UUID, score float64, rating RiskRating, sanctionsHit bool) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&CustomerProfile{}).Where("id = ?", id).Updates(map[string]any{
		"risk_score":     score,
		"risk_rating":    rating,
		"sanctions_hit":  sanctionsHit,
		"last_screening": now,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update customer risk: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateTransaction persists a transaction row.
func (s *Store) CreateTransaction(ctx context.Context, t *Transaction) error {
	if t.Amount.IsZero() || t.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if _, err := s.GetCustomer(ctx, t.CustomerID); err != nil {
		return err
	}
	t.ID = uuid.New()
	if t.Reference == "" {
		t.Reference = fmt.Sprintf("TXN-%s", t.ID.String()[:8])
	}
	if t.ExecutedAt.IsZero() {
		t.ExecutedAt = time.Now().UTC()
	}
	if t.Currency == "" {
		t.Currency = "ZMW"
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// ListTransactions returns a customer's transactions, newest first.
func (s *Store) ListTransactions(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Transaction
	q := s.db.WithContext(ctx).Model(&Transaction{})
	if customerID != uuid.Nil {
		q = q.Where("customer_id = ?", customerID)
	}
	if err := q.Order("executed_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return out, nil
}

// SaveAlert persists an engine or screening alert.
func (s *Store) SaveAlert(ctx context.Context, a *TransactionAlert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = AlertOpen
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// GetAlert loads one alert.
func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (*TransactionAlert, error) {
	var a TransactionAlert
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert %s: %w", id, err)
	}
	return &a, nil
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Status     AlertStatus
	Severity   AlertSeverity
	Scenario   string
	CustomerID uuid.UUID
	Limit      int
	Offset     int
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]TransactionAlert, int64, error) {
	q := s.db.WithContext(ctx).Model(&TransactionAlert{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Scenario != "" {
		q = q.Where("scenario = ?", f.Scenario)
	}
	if f.CustomerID != uuid.Nil {
		q = q.Where("customer_id = ?", f.CustomerID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []TransactionAlert
	if err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	return out, total, nil
}

// AcknowledgeAlert marks an open alert acknowledged. Acknowledging twice is
// a no-op.
func (s *Store) AcknowledgeAlert(ctx context.Context, id uuid.UUID, actor string) (*TransactionAlert, error) {
	a, err := s.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != AlertOpen {
		return a, nil
	}
	now := time.Now().UTC()
	a.Status = AlertAcknowledged
	a.AcknowledgedBy = actor
	a.AcknowledgedAt = &now
	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	return a, nil
}

// ResolveAlert closes an alert, optionally as a false positive. Resolving an
// unacknowledged alert is allowed; resolving twice is a no-op.
func (s *Store) ResolveAlert(ctx context.Context, id uuid.UUID, actor, resolution string, falsePositive bool) (*TransactionAlert, error) {
	a, err := s.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == AlertResolved || a.Status == AlertFalsePositive {
		return a, nil
	}
	now := time.Now().UTC()
	a.Status = AlertResolved
	if falsePositive {
		a.Status = AlertFalsePositive
	}
	a.ResolvedBy = actor
	a.ResolvedAt = &now
	a.Resolution = resolution
	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}
	return a, nil
}

// DeleteResolvedAlertsBefore removes resolved and false-positive alerts
// whose resolution predates the cutoff. Called by the stream engine's
// maintenance sweep.
func (s *Store) DeleteResolvedAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND resolved_at < ?",
			[]AlertStatus{AlertResolved, AlertFalsePositive}, cutoff).
		Delete(&TransactionAlert{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune resolved alerts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CreateReport opens a draft SAR or CTR.
func (s *Store) CreateReport(ctx context.Context, r *RegulatoryReport) error {
	if r.Type != ReportSAR && r.Type != ReportCTR {
		return fmt.Errorf("%w: report type must be SAR or CTR", ErrValidation)
	}
	r.ID = uuid.New()
	r.Status = ReportDraft
	if r.ReportNumber == "" {
		r.ReportNumber = fmt.Sprintf("%s-%d-%s", r.Type, time.Now().Year(), r.ID.String()[:8])
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

// GetReport loads a regulatory report.
func (s *Store) GetReport(ctx context.Context, id uuid.UUID) (*RegulatoryReport, error) {
	var r RegulatoryReport
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("report %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report %s: %w", id, err)
	}
	return &r, nil
}

// ListReports returns filings filtered by type and status.
func (s *Store) ListReports(ctx context.Context, typ ReportType, status ReportStatus, limit, offset int) ([]RegulatoryReport, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&RegulatoryReport{})
	if typ != "" {
		q = q.Where("type = ?", typ)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []RegulatoryReport
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return out, nil
}

// reportTransitions encodes the draft→pending→submitted→accepted/rejected
// lifecycle.
var reportTransitions = map[ReportStatus][]ReportStatus{
	ReportDraft:     {ReportPending},
	ReportPending:   {ReportSubmitted, ReportDraft},
	ReportSubmitted: {ReportAccepted, ReportRejected},
}

// TransitionReport moves a filing along its lifecycle.
func (s *Store) TransitionReport(ctx context.Context, id uuid.UUID, to ReportStatus, reason string) (*RegulatoryReport, error) {
	r, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, next := range reportTransitions[r.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, r.Status, to)
	}

	now := time.Now().UTC()
	r.Status = to
	switch to {
	case ReportSubmitted:
		r.SubmittedAt = &now
	case ReportAccepted, ReportRejected:
		r.DecidedAt = &now
		r.RejectionReason = reason
	}
	if err := s.db.WithContext(ctx).Save(r).Error; err != nil {
		return nil, fmt.Errorf("failed to transition report: %w", err)
	}
	s.logger.Info("regulatory report transitioned",
		zap.String("report", r.ReportNumber), zap.String("status", string(to)))
	return r, nil
}

// UpsertWatchlistEntry adds an entry to a sanctions list.
func (s *Store) UpsertWatchlistEntry(ctx context.Context, e *WatchlistEntry) error {
	if e.FullName == "" {
		return fmt.Errorf("%w: full_name is required", ErrValidation)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Save(e).Error; err != nil {
		return fmt.Errorf("failed to save watchlist entry: %w", err)
	}
	return nil
}

// ListWatchlist returns all entries, optionally scoped to one list.
func (s *Store) ListWatchlist(ctx context.Context, listID uint) ([]WatchlistEntry, error) {
	q := s.db.WithContext(ctx).Model(&WatchlistEntry{})
	if listID != 0 {
		q = q.Where("list_id = ?", listID)
	}
	var out []WatchlistEntry
	if err := q.Order("full_name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	return out, nil
}

// CreateSanctionsList registers a list source.
func (s *Store) CreateSanctionsList(ctx context.Context, l *SanctionsList) error {
	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("failed to create sanctions list: %w", err)
	}
	return nil
}

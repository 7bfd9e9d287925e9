// Package integrations connects the platform to external systems: the
// goAML reporting portal, PACRA, ZRA and CCPC registries over HTTP,
// Active Directory over LDAP and the Oracle ERP over its driver. Every
// connector has a mock mode so the platform runs without credentials.
package integrations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnknownConnector = errors.New("unknown connector")
	ErrRemote           = errors.New("remote call failed")
)

// Status is a connector health snapshot.
type Status struct {
	Name      string    `json:"name"`
	Mode      string    `json:"mode"` // mock or live
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Connector is one external system binding.
type Connector interface {
	Name() string
	Status(ctx context.Context) Status
	// Sync pulls the external record for a reference (registration
	// number, TPIN, report id) and returns the normalized payload.
	Sync(ctx context.Context, reference string) (map[string]any, error)
}

// SyncLog records every connector call for the integration audit trail.
type SyncLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Connector string    `gorm:"size:20;index;not null" json:"connector"`
	Operation string    `gorm:"size:40;not null" json:"operation"`
	Reference string    `json:"reference"`
	Outcome   string    `gorm:"size:10" json:"outcome"` // success or failed
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// Models returns the integration models, for migration.
func Models() []any {
	return []any{&SyncLog{}}
}

// Registry holds the configured connectors and their shared audit log.
type Registry struct {
	db         *gorm.DB
	logger     *zap.Logger
	connectors map[string]Connector
}

// NewRegistry creates an empty registry.
func NewRegistry(db *gorm.DB, logger *zap.Logger) *Registry {
	return &Registry{
		db:         db,
		logger:     logger,
		connectors: make(map[string]Connector),
	}
}

// Register adds a connector under its name.
func (r *Registry) Register(c Connector) {
	r.connectors[c.Name()] = c
}

// Names lists registered connectors, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Status reports one connector's health.
func (r *Registry) Status(ctx context.Context, name string) (Status, error) {
	c, ok := r.connectors[name]
	if !ok {
		return Status{}, fmt.Errorf("%s: %w", name, ErrUnknownConnector)
	}
	return c.Status(ctx), nil
}

// Sync runs a connector pull and records the outcome in the sync log.
func (r *Registry) Sync(ctx context.Context, name, reference string) (map[string]any, error) {
	c, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownConnector)
	}

	payload, err := c.Sync(ctx, reference)
	log := SyncLog{
		ID:        uuid.New(),
		Connector: name,
		Operation: "sync",
		Reference: reference,
		Outcome:   "success",
	}
	if err != nil {
		log.Outcome = "failed"
		log.Error = err.Error()
	}
	if dbErr := r.db.WithContext(ctx).Create(&log).Error; dbErr != nil {
		r.logger.Warn("failed to record sync log", zap.Error(dbErr))
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// History returns recent sync log entries, optionally for one connector.
func (r *Registry) History(ctx context.Context, name string, limit int) ([]SyncLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Model(&SyncLog{})
	if name != "" {
		q = q.Where("connector = ?", name)
	}
	var out []SyncLog
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load sync history: %w", err)
	}
	return out, nil
}

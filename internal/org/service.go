package org

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
	ErrNotFound = errors.New("not found")
	// ErrCycle is returned when a reparent would make a unit its own
	// ancestor.
	ErrCycle      = errors.New("reparenting would create a cycle")
	ErrValidation = errors.New("validation failed")
)

// Unit is a node in the organisational hierarchy (directorate, department,
// unit).
type Unit struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ParentID  *uuid.UUID `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	Name      string     `gorm:"not null" json:"name"`
	Code      string     `gorm:"uniqueIndex;size:30" json:"code"`
	UnitType  string     `gorm:"size:20;default:department" json:"unit_type"`
	HeadName  string     `json:"head_name"`
	HeadEmail string     `json:"head_email"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Children []Unit `gorm:"foreignKey:ParentID" json:"children,omitempty"`
}

// Service manages the unit tree.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates an org service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Models returns the org models, for migration.
func Models() []any {
	return []any{&Unit{}}
}

// Create persists a unit after checking the parent exists.
func (s *Service) Create(ctx context.Context, u *Unit) error {
	if u.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if u.ParentID != nil {
		if _, err := s.Get(ctx, *u.ParentID); err != nil {
			return err
		}
	}
	u.ID = uuid.New()
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("failed to create org unit: %w", err)
	}
	return nil
}

// Get loads a unit with its direct children.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Unit, error) {
	var u Unit
	err := s.db.WithContext(ctx).Preload("Children").First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("org unit %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load org unit %s: %w", id, err)
	}
	return &u, nil
}

// List returns all units flat, ordered by name.
func (s *Service) List(ctx context.Context) ([]Unit, error) {
	var out []Unit
	if err := s.db.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list org units: %w", err)
	}
	return out, nil
}

// Tree returns the root units with children preloaded one level deep;
// deeper levels are resolved by the caller via Get.
func (s *Service) Tree(ctx context.Context) ([]Unit, error) {
	var roots []Unit
	if err := s.db.WithContext(ctx).Preload("Children").
		Where("parent_id IS NULL").Order("name").Find(&roots).Error; err != nil {
		return nil, fmt.Errorf("failed to load org tree: %w", err)
	}
	return roots, nil
}

// Update applies name/head changes and validates reparenting: a unit cannot
// become its own parent or a descendant's child.
func (s *Service) Update(ctx context.Context, id uuid.UUID, name, headName, headEmail string, newParent *uuid.UUID) (*Unit, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if newParent != nil {
		if *newParent == id {
			return nil, fmt.Errorf("%w: unit cannot be its own parent", ErrCycle)
		}
		if _, err := s.Get(ctx, *newParent); err != nil {
			return nil, err
		}
		ancestor := newParent
		for ancestor != nil {
			if *ancestor == id {
				return nil, ErrCycle
			}
			var parent Unit
			if err := s.db.WithContext(ctx).Select("parent_id").
				First(&parent, "id = ?", *ancestor).Error; err != nil {
				break
			}
			ancestor = parent.ParentID
		}
		u.ParentID = newParent
	}

	if name != "" {
		u.Name = name
	}
	if headName != "" {
		u.HeadName = headName
	}
	if headEmail != "" {
		u.HeadEmail = headEmail
	}
	if err := s.db.WithContext(ctx).Save(u).Error; err != nil {
		return nil, fmt.Errorf("failed to update org unit %s: %w", id, err)
	}
	return u, nil
}

// Delete soft deletes a unit. Without force, a unit with children is
// rejected; with force, children are reassigned to the deleted unit's
// parent.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, force bool) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var childCount int64
		if err := tx.Model(&Unit{}).Where("parent_id = ?", id).Count(&childCount).Error; err != nil {
			return fmt.Errorf("failed to count children: %w", err)
		}
		if childCount > 0 {
			if !force {
				return fmt.Errorf("%w: unit has %d children, use force to reassign them", ErrValidation, childCount)
			}
			if err := tx.Model(&Unit{}).Where("parent_id = ?", id).
				Update("parent_id", u.ParentID).Error; err != nil {
				return fmt.Errorf("failed to reassign children: %w", err)
			}
		}
		if err := tx.Delete(&Unit{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete org unit: %w", err)
		}
		return nil
	})
}

package masterdata

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/permissions"
)

// Store reads and writes master data. It implements permissions.Catalog and
// actions.MasterData.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the master-data tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(allModels()...)
}

// PermissionRule returns the rule for typeID and status, or nil.
func (s *Store) PermissionRule(ctx context.Context, typeID string, status actions.Status) (*permissions.Rule, error) {
	var rec PermissionRuleRecord
	err := s.db.WithContext(ctx).
		Where("action_type_id = ? AND status = ?", typeID, string(status)).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get permission rule: %w", err)
	}
	return &permissions.Rule{
		ActionTypeID:  rec.ActionTypeID,
		Status:        actions.Status(rec.Status),
		ReaderRoleIDs: []string(rec.ReaderRoleIDs),
		AuthorRoleIDs: []string(rec.AuthorRoleIDs),
	}, nil
}

// Roles returns the roles among ids that exist.
func (s *Store) Roles(ctx context.Context, ids []string) (map[string]permissions.Role, error) {
	out := make(map[string]permissions.Role, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var recs []RoleRecord
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	for _, r := range recs {
		out[r.ID] = permissions.Role{
			ID:      r.ID,
			Name:    r.Name,
			Type:    permissions.RoleType(r.Type),
			Email:   r.Email,
			Pattern: r.Pattern,
			Scope:   r.Scope,
			Field:   r.Field,
		}
	}
	return out, nil
}

// LocationResponsibles returns the responsibles of a location, or nil if it
// does not exist.
func (s *Store) LocationResponsibles(ctx context.Context, locationID string) (map[string]string, error) {
	var rec LocationRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", locationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get location: %w", err)
	}
	resp := rec.Responsibles.Data()
	if resp == nil {
		resp = map[string]string{}
	}
	return resp, nil
}

// ClassificationNames resolves the names of a type, category and optional
// subcategory. Unknown ids are reported as validation errors.
func (s *Store) ClassificationNames(ctx context.Context, typeID, categoryID, subcategoryID string) (actions.Classification, error) {
	db := s.db.WithContext(ctx)
	var out actions.Classification

	var t ActionTypeRecord
	if err := first(db, &t, typeID); err != nil {
		return out, notFoundAs(err, "typeId", "unknown action type "+typeID)
	}
	out.TypeName = t.Name

	var c CategoryRecord
	if err := first(db, &c, categoryID); err != nil {
		return out, notFoundAs(err, "categoryId", "unknown category "+categoryID)
	}
	if c.ActionTypeID != "" && c.ActionTypeID != typeID {
		return out, &actions.ValidationError{Field: "categoryId", Message: "category " + categoryID + " does not belong to type " + typeID}
	}
	out.CategoryName = c.Name

	if subcategoryID != "" {
		var sc SubcategoryRecord
		if err := first(db, &sc, subcategoryID); err != nil {
			return out, notFoundAs(err, "subcategoryId", "unknown subcategory "+subcategoryID)
		}
		if sc.CategoryID != "" && sc.CategoryID != categoryID {
			return out, &actions.ValidationError{Field: "subcategoryId", Message: "subcategory " + subcategoryID + " does not belong to category " + categoryID}
		}
		out.SubcategoryName = sc.Name
	}
	return out, nil
}

// WorkflowSettings returns the configured offsets, or the defaults if the
// settings row is missing.
func (s *Store) WorkflowSettings(ctx context.Context) (actions.WorkflowSettings, error) {
	var rec WorkflowSettingsRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", WorkflowSettingsID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return actions.DefaultWorkflowSettings(), nil
		}
		return actions.WorkflowSettings{}, fmt.Errorf("get workflow settings: %w", err)
	}
	return actions.WorkflowSettings{
		AnalysisDueDays:       rec.AnalysisDueDays,
		ImplementationDueDays: rec.ImplementationDueDays,
		ClosureDueDays:        rec.ClosureDueDays,
		VerificationDueDays:   rec.VerificationDueDays,
	}.WithDefaults(), nil
}

func first(db *gorm.DB, dst any, id string) error {
	return db.First(dst, "id = ?", id).Error
}

func notFoundAs(err error, field, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &actions.ValidationError{Field: field, Message: msg}
	}
	return fmt.Errorf("lookup %s: %w", field, err)
}

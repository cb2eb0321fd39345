package masterdata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/permissions"
)

// maxSeedFileSize is the maximum accepted seed file size (1 MiB).
const maxSeedFileSize = 1 << 20

// SeedFile is the yaml document that populates the catalog.
type SeedFile struct {
	ActionTypes     []SeedActionType          `yaml:"actionTypes"`
	Roles           []SeedRole                `yaml:"roles"`
	Locations       []SeedLocation            `yaml:"locations"`
	PermissionRules []SeedPermissionRule      `yaml:"permissionRules"`
	Workflow        *actions.WorkflowSettings `yaml:"workflow,omitempty"`
}

// SeedActionType is an action type with its categories.
type SeedActionType struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Categories []SeedCategory `yaml:"categories"`
}

// SeedCategory is a category with its subcategories.
type SeedCategory struct {
	ID            string     `yaml:"id"`
	Name          string     `yaml:"name"`
	Subcategories []SeedName `yaml:"subcategories"`
}

// SeedName is an id and display name.
type SeedName struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// SeedRole is a responsibility role.
type SeedRole struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Email   string `yaml:"email,omitempty"`
	Pattern string `yaml:"pattern,omitempty"`
	Scope   string `yaml:"scope,omitempty"`
	Field   string `yaml:"field,omitempty"`
}

// SeedLocation is a center or area.
type SeedLocation struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Kind         string            `yaml:"kind"`
	Responsibles map[string]string `yaml:"responsibles"`
}

// SeedPermissionRule maps a type and status to role ids. Status accepts any
// spelling ParseStatus understands.
type SeedPermissionRule struct {
	ActionTypeID string   `yaml:"actionTypeId"`
	Status       string   `yaml:"status"`
	Readers      []string `yaml:"readers"`
	Authors      []string `yaml:"authors"`
}

// LoadSeedFile reads, parses and validates a seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file %s: %w", path, err)
	}
	if len(data) > maxSeedFileSize {
		return nil, fmt.Errorf("seed file %s exceeds %d bytes", path, maxSeedFileSize)
	}
	f, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return f, nil
}

// ParseSeed parses and validates seed yaml.
func ParseSeed(data []byte) (*SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks ids, statuses, role definitions and templates. All
// problems are reported together.
func (f *SeedFile) Validate() error {
	var errs []error

	types := map[string]bool{}
	for _, t := range f.ActionTypes {
		if t.ID == "" {
			errs = append(errs, errors.New("action type without id"))
			continue
		}
		types[t.ID] = true
		for _, c := range t.Categories {
			if c.ID == "" {
				errs = append(errs, fmt.Errorf("action type %s: category without id", t.ID))
			}
		}
	}

	roles := map[string]bool{}
	for _, r := range f.Roles {
		if r.ID == "" {
			errs = append(errs, errors.New("role without id"))
			continue
		}
		roles[r.ID] = true
		switch permissions.RoleType(r.Type) {
		case permissions.RoleFixed:
			if strings.TrimSpace(r.Email) == "" {
				errs = append(errs, fmt.Errorf("role %s: fixed role needs an email", r.ID))
			}
		case permissions.RolePattern:
			if err := permissions.Validate(r.Pattern); err != nil {
				errs = append(errs, fmt.Errorf("role %s: %w", r.ID, err))
			}
		case permissions.RoleLocation:
			if r.Scope != "center" && r.Scope != "area" {
				errs = append(errs, fmt.Errorf("role %s: scope must be center or area", r.ID))
			} else if r.Field == "" {
				errs = append(errs, fmt.Errorf("role %s: location role needs a field", r.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("role %s: unknown type %q", r.ID, r.Type))
		}
	}

	for i, rule := range f.PermissionRules {
		if _, err := actions.ParseStatus(rule.Status); err != nil {
			errs = append(errs, fmt.Errorf("permission rule %d: %w", i, err))
		}
		if !types[rule.ActionTypeID] {
			errs = append(errs, fmt.Errorf("permission rule %d: unknown action type %q", i, rule.ActionTypeID))
		}
		for _, id := range append(append([]string{}, rule.Readers...), rule.Authors...) {
			if !roles[id] {
				errs = append(errs, fmt.Errorf("permission rule %d: unknown role %q", i, id))
			}
		}
	}

	return errors.Join(errs...)
}

// SeedOptions controls how existing rows are treated.
type SeedOptions struct {
	// Overwrite replaces existing rows. By default rows that already exist
	// are left untouched.
	Overwrite bool
}

// SeedResult counts rows written per table.
type SeedResult struct {
	Written map[string]int64
}

// Seed writes the seed file in a single transaction. Without Overwrite it
// is an insert-if-absent and can be run on every start.
func (s *Store) Seed(ctx context.Context, f *SeedFile, opts SeedOptions) (*SeedResult, error) {
	res := &SeedResult{Written: map[string]int64{}}
	conflict := clause.OnConflict{DoNothing: true}
	if opts.Overwrite {
		conflict = clause.OnConflict{UpdateAll: true}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		write := func(table string, rows any) error {
			r := tx.Clauses(conflict).Create(rows)
			if r.Error != nil {
				return fmt.Errorf("seed %s: %w", table, r.Error)
			}
			res.Written[table] += r.RowsAffected
			return nil
		}

		for _, t := range f.ActionTypes {
			if err := write("action_types", &ActionTypeRecord{ID: t.ID, Name: t.Name}); err != nil {
				return err
			}
			for _, c := range t.Categories {
				if err := write("categories", &CategoryRecord{ID: c.ID, Name: c.Name, ActionTypeID: t.ID}); err != nil {
					return err
				}
				for _, sc := range c.Subcategories {
					if err := write("subcategories", &SubcategoryRecord{ID: sc.ID, Name: sc.Name, CategoryID: c.ID}); err != nil {
						return err
					}
				}
			}
		}

		for _, r := range f.Roles {
			rec := &RoleRecord{ID: r.ID, Name: r.Name, Type: r.Type, Email: r.Email, Pattern: r.Pattern, Scope: r.Scope, Field: r.Field}
			if err := write("responsibility_roles", rec); err != nil {
				return err
			}
		}

		for _, l := range f.Locations {
			rec := &LocationRecord{ID: l.ID, Name: l.Name, Kind: l.Kind, Responsibles: datatypes.NewJSONType(l.Responsibles)}
			if err := write("locations", rec); err != nil {
				return err
			}
		}

		for _, rule := range f.PermissionRules {
			status, err := actions.ParseStatus(rule.Status)
			if err != nil {
				return err
			}
			rec := &PermissionRuleRecord{
				ID:            RuleID(rule.ActionTypeID, string(status)),
				ActionTypeID:  rule.ActionTypeID,
				Status:        string(status),
				ReaderRoleIDs: datatypes.NewJSONSlice(rule.Readers),
				AuthorRoleIDs: datatypes.NewJSONSlice(rule.Authors),
			}
			if err := write("permission_rules", rec); err != nil {
				return err
			}
		}

		if f.Workflow != nil {
			rec := &WorkflowSettingsRecord{
				ID:                    WorkflowSettingsID,
				AnalysisDueDays:       f.Workflow.AnalysisDueDays,
				ImplementationDueDays: f.Workflow.ImplementationDueDays,
				ClosureDueDays:        f.Workflow.ClosureDueDays,
				VerificationDueDays:   f.Workflow.VerificationDueDays,
			}
			if err := write("workflow_settings", rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

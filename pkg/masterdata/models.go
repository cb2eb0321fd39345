// Package masterdata holds the classification, role and workflow catalog
// the workflow reads from, together with the yaml seed that populates it.
package masterdata

import (
	"gorm.io/datatypes"
)

// ActionTypeRecord is an action type ("ambit").
type ActionTypeRecord struct {
	ID   string `gorm:"primaryKey;column:id;type:varchar(64)"`
	Name string `gorm:"column:name;not null"`
}

// TableName returns the GORM table name.
func (ActionTypeRecord) TableName() string { return "action_types" }

// CategoryRecord is a category within an action type.
type CategoryRecord struct {
	ID           string `gorm:"primaryKey;column:id;type:varchar(64)"`
	Name         string `gorm:"column:name;not null"`
	ActionTypeID string `gorm:"column:action_type_id;index:idx_category_type"`
}

// TableName returns the GORM table name.
func (CategoryRecord) TableName() string { return "categories" }

// SubcategoryRecord is a subcategory within a category.
type SubcategoryRecord struct {
	ID         string `gorm:"primaryKey;column:id;type:varchar(64)"`
	Name       string `gorm:"column:name;not null"`
	CategoryID string `gorm:"column:category_id;index:idx_subcategory_category"`
}

// TableName returns the GORM table name.
func (SubcategoryRecord) TableName() string { return "subcategories" }

// PermissionRuleRecord maps an action type and status to reader and author
// roles. There is at most one rule per pair.
type PermissionRuleRecord struct {
	ID            string                      `gorm:"primaryKey;column:id;type:varchar(128)"`
	ActionTypeID  string                      `gorm:"column:action_type_id;uniqueIndex:idx_rule_type_status,priority:1;not null"`
	Status        string                      `gorm:"column:status;uniqueIndex:idx_rule_type_status,priority:2;not null"`
	ReaderRoleIDs datatypes.JSONSlice[string] `gorm:"column:reader_role_ids"`
	AuthorRoleIDs datatypes.JSONSlice[string] `gorm:"column:author_role_ids"`
}

// TableName returns the GORM table name.
func (PermissionRuleRecord) TableName() string { return "permission_rules" }

// RuleID returns the primary key of the rule for a type and status.
func RuleID(typeID, status string) string { return typeID + ":" + status }

// RoleRecord is a responsibility role.
type RoleRecord struct {
	ID      string `gorm:"primaryKey;column:id;type:varchar(64)"`
	Name    string `gorm:"column:name"`
	Type    string `gorm:"column:type;not null"`
	Email   string `gorm:"column:email"`
	Pattern string `gorm:"column:pattern"`
	Scope   string `gorm:"column:scope"`
	Field   string `gorm:"column:field"`
}

// TableName returns the GORM table name.
func (RoleRecord) TableName() string { return "responsibility_roles" }

// LocationRecord is a center or area with its named responsibles, e.g.
// {"director": "d@example.com"}.
type LocationRecord struct {
	ID           string                                `gorm:"primaryKey;column:id;type:varchar(64)"`
	Name         string                                `gorm:"column:name"`
	Kind         string                                `gorm:"column:kind"`
	Responsibles datatypes.JSONType[map[string]string] `gorm:"column:responsibles"`
}

// TableName returns the GORM table name.
func (LocationRecord) TableName() string { return "locations" }

// WorkflowSettingsID is the key of the single workflow settings row.
const WorkflowSettingsID = "workflow"

// WorkflowSettingsRecord holds the due-date offsets in days.
type WorkflowSettingsRecord struct {
	ID                    string `gorm:"primaryKey;column:id;type:varchar(32)"`
	AnalysisDueDays       int    `gorm:"column:analysis_due_days"`
	ImplementationDueDays int    `gorm:"column:implementation_due_days"`
	ClosureDueDays        int    `gorm:"column:closure_due_days"`
	VerificationDueDays   int    `gorm:"column:verification_due_days"`
}

// TableName returns the GORM table name.
func (WorkflowSettingsRecord) TableName() string { return "workflow_settings" }

func allModels() []any {
	return []any{
		&ActionTypeRecord{},
		&CategoryRecord{},
		&SubcategoryRecord{},
		&PermissionRuleRecord{},
		&RoleRecord{},
		&LocationRecord{},
		&WorkflowSettingsRecord{},
	}
}

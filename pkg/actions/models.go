package actions

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the workflow stage of an action.
type Status string

const (
	StatusDraft               Status = "draft"
	StatusPendingAnalysis     Status = "pending_analysis"
	StatusPendingVerification Status = "pending_verification"
	StatusPendingClosure      Status = "pending_closure"
	StatusFinalized           Status = "finalized"
)

// statusOrder lists the stages in workflow order.
var statusOrder = []Status{
	StatusDraft,
	StatusPendingAnalysis,
	StatusPendingVerification,
	StatusPendingClosure,
	StatusFinalized,
}

// OpenStatuses are the stages that still carry a dated obligation.
var OpenStatuses = []Status{
	StatusPendingAnalysis,
	StatusPendingVerification,
	StatusPendingClosure,
}

var statusLabels = map[Status]string{
	StatusDraft:               "Draft",
	StatusPendingAnalysis:     "Pending Analysis",
	StatusPendingVerification: "Pending Verification",
	StatusPendingClosure:      "Pending Closure",
	StatusFinalized:           "Finalized",
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label returns the human readable name of the status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s Status) rank() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// ParseStatus accepts either the stored form ("pending_analysis") or the
// label form ("Pending Analysis", "PendingAnalysis").
func ParseStatus(v string) (Status, error) {
	norm := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.TrimSpace(v)))
	for _, s := range statusOrder {
		if strings.ReplaceAll(string(s), "_", "") == norm {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", v)
}

// UnmarshalJSON lets clients send any accepted spelling of a status.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = ""
		return nil
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Person identifies a user acting on an action.
type Person struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Analysis is the root-cause analysis submitted in PendingAnalysis.
type Analysis struct {
	Description                      string     `json:"description"`
	RootCauses                       string     `json:"rootCauses,omitempty"`
	VerificationResponsibleUserEmail string     `json:"verificationResponsibleUserEmail,omitempty"`
	AnalyzedBy                       *Person    `json:"analyzedBy,omitempty"`
	AnalyzedAt                       *time.Time `json:"analyzedAt,omitempty"`
}

// Verification records the check that proposed actions were carried out.
type Verification struct {
	Notes      string     `json:"notes"`
	VerifiedBy *Person    `json:"verifiedBy,omitempty"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
}

// Closure records the final compliance decision.
type Closure struct {
	Notes              string     `json:"notes"`
	IsCompliant        *bool      `json:"isCompliant"`
	ClosureResponsible *Person    `json:"closureResponsible,omitempty"`
	ClosedBy           *Person    `json:"closedBy,omitempty"`
	ClosedAt           *time.Time `json:"closedAt,omitempty"`
}

// NonCompliant reports whether the closure explicitly rejected the action.
func (c *Closure) NonCompliant() bool {
	return c != nil && c.IsCompliant != nil && !*c.IsCompliant
}

// ProposedActionStatus tracks a single proposed sub-action.
type ProposedActionStatus string

const (
	ProposedPending         ProposedActionStatus = "pending"
	ProposedImplemented     ProposedActionStatus = "implemented"
	ProposedImplementedLate ProposedActionStatus = "implemented_late"
	ProposedNotImplemented  ProposedActionStatus = "not_implemented"
)

// IsValid reports whether s is a known proposed action status.
func (s ProposedActionStatus) IsValid() bool {
	switch s {
	case ProposedPending, ProposedImplemented, ProposedImplementedLate, ProposedNotImplemented:
		return true
	}
	return false
}

// ProposedAction is a dated sub-obligation defined during analysis.
type ProposedAction struct {
	ID                   string               `json:"id"`
	Description          string               `json:"description"`
	ResponsibleUserEmail string               `json:"responsibleUserEmail,omitempty"`
	DueDate              *time.Time           `json:"dueDate,omitempty"`
	Status               ProposedActionStatus `json:"status"`
	StatusUpdatedAt      *time.Time           `json:"statusUpdatedAt,omitempty"`
}

// CommentKind separates user discussion from generated entries.
type CommentKind string

const (
	CommentUser   CommentKind = "user"
	CommentSystem CommentKind = "system"
	CommentAdmin  CommentKind = "admin"
)

// Comment is one entry of the append-only action log.
type Comment struct {
	ID        string      `json:"id"`
	Author    Person      `json:"author"`
	Kind      CommentKind `json:"kind"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Attachment is metadata for a file stored elsewhere.
type Attachment struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	URL        string    `json:"url"`
	UploadedBy Person    `json:"uploadedBy"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Action is an improvement action document.
type Action struct {
	ID                 string   `json:"id"`
	ActionCode         string   `json:"actionId"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	TypeID             string   `json:"typeId"`
	TypeName           string   `json:"typeName,omitempty"`
	CategoryID         string   `json:"categoryId"`
	CategoryName       string   `json:"categoryName,omitempty"`
	SubcategoryID      string   `json:"subcategoryId,omitempty"`
	SubcategoryName    string   `json:"subcategoryName,omitempty"`
	Status             Status   `json:"status"`
	Creator            Person   `json:"creator"`
	ResponsibleGroupID string   `json:"responsibleGroupId,omitempty"`
	CenterID           string   `json:"centerId,omitempty"`
	AffectedAreaIDs    []string `json:"affectedAreaIds,omitempty"`

	Analysis     *Analysis     `json:"analysis,omitempty"`
	Verification *Verification `json:"verification,omitempty"`
	Closure      *Closure      `json:"closure,omitempty"`

	AnalysisDueDate       *time.Time `json:"analysisDueDate,omitempty"`
	ImplementationDueDate *time.Time `json:"implementationDueDate,omitempty"`
	VerificationDueDate   *time.Time `json:"verificationDueDate,omitempty"`
	ClosureDueDate        *time.Time `json:"closureDueDate,omitempty"`

	ProposedActions []ProposedAction `json:"proposedActions,omitempty"`
	RemindersSent   map[string]bool  `json:"remindersSent,omitempty"`

	Readers     []string     `json:"readers"`
	Authors     []string     `json:"authors"`
	Comments    []Comment    `json:"comments,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Followers   []string     `json:"followers,omitempty"`

	OriginalActionID    string `json:"originalActionId,omitempty"`
	OriginalActionTitle string `json:"originalActionTitle,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the action.
func (a *Action) Clone() *Action {
	b, err := json.Marshal(a)
	if err != nil {
		panic(fmt.Sprintf("clone action %s: %v", a.ID, err))
	}
	var out Action
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("clone action %s: %v", a.ID, err))
	}
	return &out
}

// ResponsibleParty returns the address that owns the next step of the
// workflow at the action's current status.
func (a *Action) ResponsibleParty() string {
	switch a.Status {
	case StatusPendingAnalysis:
		return a.ResponsibleGroupID
	case StatusPendingVerification:
		if a.Analysis != nil {
			return a.Analysis.VerificationResponsibleUserEmail
		}
	case StatusPendingClosure:
		if a.Closure != nil && a.Closure.ClosureResponsible != nil && a.Closure.ClosureResponsible.Email != "" {
			return a.Closure.ClosureResponsible.Email
		}
		return a.Creator.Email
	case StatusFinalized, StatusDraft:
		return a.Creator.Email
	}
	return ""
}

// ReminderSent reports whether the reminder for key was already delivered.
func (a *Action) ReminderSent(key string) bool {
	return a.RemindersSent[key]
}

// MarkReminderSent sets the reminder flag for key. Flags are never cleared.
func (a *Action) MarkReminderSent(key string) {
	if a.RemindersSent == nil {
		a.RemindersSent = make(map[string]bool)
	}
	a.RemindersSent[key] = true
}

// ProposedAction returns the proposed action with the given id.
func (a *Action) ProposedAction(id string) (*ProposedAction, bool) {
	for i := range a.ProposedActions {
		if a.ProposedActions[i].ID == id {
			return &a.ProposedActions[i], true
		}
	}
	return nil, false
}

// Classification holds the display names for the classification ids.
type Classification struct {
	TypeName        string
	CategoryName    string
	SubcategoryName string
}

// WorkflowSettings are the due-date offsets, in days, applied by the workflow.
type WorkflowSettings struct {
	AnalysisDueDays       int `json:"analysisDueDays" yaml:"analysisDueDays"`
	ImplementationDueDays int `json:"implementationDueDays" yaml:"implementationDueDays"`
	ClosureDueDays        int `json:"closureDueDays" yaml:"closureDueDays"`
	VerificationDueDays   int `json:"verificationDueDays" yaml:"verificationDueDays"`
}

// DefaultWorkflowSettings returns the offsets used when none are configured.
func DefaultWorkflowSettings() WorkflowSettings {
	return WorkflowSettings{
		AnalysisDueDays:       30,
		ImplementationDueDays: 75,
		ClosureDueDays:        15,
		VerificationDueDays:   15,
	}
}

// WithDefaults fills unset offsets from DefaultWorkflowSettings.
func (w WorkflowSettings) WithDefaults() WorkflowSettings {
	d := DefaultWorkflowSettings()
	if w.AnalysisDueDays <= 0 {
		w.AnalysisDueDays = d.AnalysisDueDays
	}
	if w.ImplementationDueDays <= 0 {
		w.ImplementationDueDays = d.ImplementationDueDays
	}
	if w.ClosureDueDays <= 0 {
		w.ClosureDueDays = d.ClosureDueDays
	}
	if w.VerificationDueDays <= 0 {
		w.VerificationDueDays = d.VerificationDueDays
	}
	return w
}

// Access is the computed reader and author lists for an action.
type Access struct {
	Readers []string
	Authors []string
	// RuleFound is false when no permission rule matched and the lists are
	// the action's current ones.
	RuleFound bool
}

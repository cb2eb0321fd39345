package actions

import (
	"strconv"
	"strings"
)

// Command is a typed mutation of a single action. Each command validates
// itself before anything is read or written.
type Command interface {
	Validate() error
	ActionRef() string
}

// NewAction is the input of CreateAction.
type NewAction struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	TypeID             string   `json:"typeId"`
	CategoryID         string   `json:"categoryId"`
	SubcategoryID      string   `json:"subcategoryId,omitempty"`
	Status             Status   `json:"status,omitempty"`
	Creator            Person   `json:"creator"`
	ResponsibleGroupID string   `json:"responsibleGroupId,omitempty"`
	CenterID           string   `json:"centerId,omitempty"`
	AffectedAreaIDs    []string `json:"affectedAreaIds,omitempty"`

	OriginalActionID    string `json:"-"`
	OriginalActionTitle string `json:"-"`
}

// Validate checks required fields.
func (n *NewAction) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return invalid("title", "is required")
	}
	if n.TypeID == "" {
		return invalid("typeId", "is required")
	}
	if n.CategoryID == "" {
		return invalid("categoryId", "is required")
	}
	if n.Creator.Email == "" {
		return invalid("creator.email", "is required")
	}
	switch n.Status {
	case "", StatusDraft, StatusPendingAnalysis:
	default:
		return invalid("status", "new actions start in Draft or Pending Analysis")
	}
	if n.Status == StatusPendingAnalysis && n.ResponsibleGroupID == "" {
		return invalid("responsibleGroupId", "is required to submit for analysis")
	}
	return nil
}

// TransitionCommand saves a patch together with an optional status change.
// When Target is empty it is inferred from the payload, see InferTarget.
type TransitionCommand struct {
	ActionID string `json:"-"`
	Actor    Person `json:"-"`
	Target   Status `json:"targetStatus,omitempty"`

	Title              *string  `json:"title,omitempty"`
	Description        *string  `json:"description,omitempty"`
	ResponsibleGroupID *string  `json:"responsibleGroupId,omitempty"`
	CenterID           *string  `json:"centerId,omitempty"`
	AffectedAreaIDs    []string `json:"affectedAreaIds,omitempty"`

	Analysis        *Analysis        `json:"analysis,omitempty"`
	ProposedActions []ProposedAction `json:"proposedActions,omitempty"`
	Verification    *Verification    `json:"verification,omitempty"`
	Closure         *Closure         `json:"closure,omitempty"`

	// Comments are user comments saved with the transition.
	Comments []string `json:"comments,omitempty"`
	// AuditNotes are administrative entries, e.g. who forced a change.
	AuditNotes []string `json:"auditNotes,omitempty"`
}

func (c TransitionCommand) ActionRef() string { return c.ActionID }

// Validate checks the command shape.
func (c TransitionCommand) Validate() error {
	if c.ActionID == "" {
		return invalid("actionId", "is required")
	}
	if c.Target != "" && !c.Target.IsValid() {
		return invalid("targetStatus", "unknown status "+string(c.Target))
	}
	if c.Title != nil && strings.TrimSpace(*c.Title) == "" {
		return invalid("title", "cannot be empty")
	}
	if c.Closure != nil && c.Closure.IsCompliant == nil {
		return invalid("closure.isCompliant", "is required")
	}
	for i, pa := range c.ProposedActions {
		if strings.TrimSpace(pa.Description) == "" {
			return invalid("proposedActions", "entry "+strconv.Itoa(i)+" has no description")
		}
		if pa.Status != "" && !pa.Status.IsValid() {
			return invalid("proposedActions", "entry "+strconv.Itoa(i)+" has unknown status "+string(pa.Status))
		}
	}
	for _, text := range c.Comments {
		if strings.TrimSpace(text) == "" {
			return invalid("comments", "cannot contain empty entries")
		}
	}
	return nil
}

// CommentCommand appends a user comment.
type CommentCommand struct {
	ActionID string `json:"-"`
	Author   Person `json:"-"`
	Text     string `json:"text"`
}

func (c CommentCommand) ActionRef() string { return c.ActionID }

// Validate checks the command shape.
func (c CommentCommand) Validate() error {
	if c.ActionID == "" {
		return invalid("actionId", "is required")
	}
	if strings.TrimSpace(c.Text) == "" {
		return invalid("text", "is required")
	}
	return nil
}

// AttachmentCommand appends attachment metadata.
type AttachmentCommand struct {
	ActionID   string `json:"-"`
	UploadedBy Person `json:"-"`
	FileName   string `json:"fileName"`
	URL        string `json:"url"`
}

func (c AttachmentCommand) ActionRef() string { return c.ActionID }

// Validate checks the command shape.
func (c AttachmentCommand) Validate() error {
	if c.ActionID == "" {
		return invalid("actionId", "is required")
	}
	if c.FileName == "" {
		return invalid("fileName", "is required")
	}
	if c.URL == "" {
		return invalid("url", "is required")
	}
	return nil
}

// ProposedActionStatusCommand changes the status of one proposed action.
type ProposedActionStatusCommand struct {
	ActionID         string               `json:"-"`
	ProposedActionID string               `json:"-"`
	Actor            Person               `json:"-"`
	Status           ProposedActionStatus `json:"status"`
}

func (c ProposedActionStatusCommand) ActionRef() string { return c.ActionID }

// Validate checks the command shape.
func (c ProposedActionStatusCommand) Validate() error {
	if c.ActionID == "" {
		return invalid("actionId", "is required")
	}
	if c.ProposedActionID == "" {
		return invalid("proposedActionId", "is required")
	}
	if !c.Status.IsValid() {
		return invalid("status", "unknown proposed action status "+string(c.Status))
	}
	return nil
}

// FollowCommand toggles whether a user follows an action.
type FollowCommand struct {
	ActionID string `json:"-"`
	UserID   string `json:"-"`
}

func (c FollowCommand) ActionRef() string { return c.ActionID }

// Validate checks the command shape.
func (c FollowCommand) Validate() error {
	if c.ActionID == "" {
		return invalid("actionId", "is required")
	}
	if c.UserID == "" {
		return invalid("userId", "is required")
	}
	return nil
}

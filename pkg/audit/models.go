// Package audit records system events about improvement actions and API
// mutations, and prunes them after a retention period.
package audit

import (
	"time"

	"gorm.io/datatypes"
)

// EventRecord is an immutable audit log entry.
type EventRecord struct {
	ID         string            `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	EventType  string            `gorm:"column:event_type;index:idx_audit_type_time,priority:1;not null" json:"eventType"`
	Actor      string            `gorm:"column:actor;index:idx_audit_actor_time,priority:1;not null" json:"actor"`
	ActionID   string            `gorm:"column:action_id;index:idx_audit_action_time,priority:1" json:"actionId,omitempty"`
	ActionCode string            `gorm:"column:action_code" json:"actionCode,omitempty"`
	FromStatus string            `gorm:"column:from_status" json:"fromStatus,omitempty"`
	ToStatus   string            `gorm:"column:to_status" json:"toStatus,omitempty"`
	Outcome    string            `gorm:"column:outcome;not null" json:"outcome"` // success, failure, denied
	RequestID  string            `gorm:"column:request_id;index" json:"requestId,omitempty"`
	StatusCode int               `gorm:"column:status_code" json:"statusCode,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata;type:text" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at;index:idx_audit_type_time,priority:2;index:idx_audit_actor_time,priority:2;index:idx_audit_action_time,priority:2;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (EventRecord) TableName() string { return "audit_events" }

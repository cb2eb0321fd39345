package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActionRecord is the GORM model for an action. The full document is kept in
// Document; the other columns are projections used for lookups and for the
// optimistic concurrency check.
type ActionRecord struct {
	ID               string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ActionCode       string    `gorm:"column:action_code;uniqueIndex:idx_action_code;not null"`
	CodeSeq          int       `gorm:"column:code_seq;not null;default:0"`
	Status           Status    `gorm:"column:status;index:idx_action_status;not null"`
	TypeID           string    `gorm:"column:type_id;index:idx_action_type"`
	OriginalActionID *string   `gorm:"column:original_action_id;uniqueIndex:idx_action_original"`
	Document         string    `gorm:"column:document;type:text;not null"`
	Version          int64     `gorm:"column:version;not null;default:1"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

// TableName returns the GORM table name.
func (ActionRecord) TableName() string { return "actions" }

// ActionSequence holds the last code number issued for a year.
type ActionSequence struct {
	Year    int `gorm:"primaryKey;column:year;autoIncrement:false"`
	Counter int `gorm:"column:counter;not null;default:0"`
}

// TableName returns the GORM table name.
func (ActionSequence) TableName() string { return "action_sequences" }

// Store persists actions as versioned documents.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the actions and action_sequences tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&ActionRecord{}, &ActionSequence{})
}

// ListFilter narrows List results.
type ListFilter struct {
	Statuses []Status
	TypeID   string
	Limit    int
}

// Create allocates the next action code for the creation year and inserts
// the action in the same transaction, so a failed insert does not consume a
// number.
func (s *Store) Create(ctx context.Context, a *Action) error {
	if a.ID == "" {
		return invalid("id", "is required")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	a.Version = 1

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code, seq, err := nextCode(tx, a.CreatedAt.Year())
		if err != nil {
			return err
		}
		a.ActionCode = code

		rec, err := toRecord(a)
		if err != nil {
			return err
		}
		rec.CodeSeq = seq
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("create action: %w", err)
		}
		return nil
	})
}

// nextCode increments the per-year counter and formats it as AM-YYNNN. The
// number has at least three digits; past 999 it grows to AM-YY1000, so codes
// must be ordered by the returned counter, never as strings.
func nextCode(tx *gorm.DB, year int) (string, int, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ActionSequence{Year: year}).Error; err != nil {
		return "", 0, fmt.Errorf("init action sequence: %w", err)
	}
	if err := tx.Model(&ActionSequence{}).Where("year = ?", year).
		Update("counter", gorm.Expr("counter + 1")).Error; err != nil {
		return "", 0, fmt.Errorf("increment action sequence: %w", err)
	}
	var seq ActionSequence
	if err := tx.First(&seq, "year = ?", year).Error; err != nil {
		return "", 0, fmt.Errorf("read action sequence: %w", err)
	}
	return fmt.Sprintf("AM-%02d%03d", year%100, seq.Counter), seq.Counter, nil
}

// Get retrieves an action by its storage id.
func (s *Store) Get(ctx context.Context, id string) (*Action, error) {
	return s.getWhere(s.db.WithContext(ctx), "id = ?", id)
}

// GetByCode retrieves an action by its human-facing code.
func (s *Store) GetByCode(ctx context.Context, code string) (*Action, error) {
	return s.getWhere(s.db.WithContext(ctx), "action_code = ?", code)
}

// FindByOriginal returns the remediation action linked to originalID, or nil
// if none exists.
func (s *Store) FindByOriginal(ctx context.Context, originalID string) (*Action, error) {
	a, err := s.getWhere(s.db.WithContext(ctx), "original_action_id = ?", originalID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (s *Store) getWhere(db *gorm.DB, query string, args ...any) (*Action, error) {
	var rec ActionRecord
	if err := db.Where(query, args...).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get action: %w", err)
	}
	return fromRecord(&rec)
}

// List returns actions matching the filter, oldest first. Ties on creation
// time are broken by the numeric code sequence.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Action, error) {
	q := s.db.WithContext(ctx).Model(&ActionRecord{})
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.TypeID != "" {
		q = q.Where("type_id = ?", filter.TypeID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var records []ActionRecord
	if err := q.Order("created_at ASC, code_seq ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}

	out := make([]*Action, 0, len(records))
	for i := range records {
		a, err := fromRecord(&records[i])
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Update performs a transactional read-modify-write of a single action. fn
// receives the current document and mutates it in place. The write only
// succeeds if the version read is still current; otherwise ErrConflict is
// returned. If fn returns ErrNoChange the write is skipped and the current
// document is returned.
//
// fn must not touch the database.
func (s *Store) Update(ctx context.Context, id string, fn func(a *Action) error) (*Action, error) {
	var out *Action
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.getWhere(tx, "id = ?", id)
		if err != nil {
			return err
		}
		readVersion := cur.Version

		if err := fn(cur); err != nil {
			if errors.Is(err, ErrNoChange) {
				out = cur
				return nil
			}
			return err
		}

		// Identity fields are owned by the store.
		cur.ID = id
		cur.Version = readVersion + 1
		cur.UpdatedAt = time.Now().UTC()

		if err := writeVersioned(tx, readVersion, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// writeVersioned stores a if the row is still at readVersion.
func writeVersioned(tx *gorm.DB, readVersion int64, a *Action) error {
	rec, err := toRecord(a)
	if err != nil {
		return err
	}
	result := tx.Model(&ActionRecord{}).
		Where("id = ? AND version = ?", a.ID, readVersion).
		Updates(map[string]any{
			"status":     rec.Status,
			"type_id":    rec.TypeID,
			"document":   rec.Document,
			"version":    rec.Version,
			"updated_at": rec.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("update action: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&ActionRecord{}).Where("id = ?", a.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("check action: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// AppendComment adds a comment to the action's log.
func (s *Store) AppendComment(ctx context.Context, id string, c Comment) (*Action, error) {
	return s.Update(ctx, id, func(a *Action) error {
		a.Comments = append(a.Comments, c)
		return nil
	})
}

func toRecord(a *Action) (*ActionRecord, error) {
	doc, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode action %s: %w", a.ID, err)
	}
	rec := &ActionRecord{
		ID:         a.ID,
		ActionCode: a.ActionCode,
		Status:     a.Status,
		TypeID:     a.TypeID,
		Document:   string(doc),
		Version:    a.Version,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
	if a.OriginalActionID != "" {
		orig := a.OriginalActionID
		rec.OriginalActionID = &orig
	}
	return rec, nil
}

func fromRecord(rec *ActionRecord) (*Action, error) {
	var a Action
	if err := json.Unmarshal([]byte(rec.Document), &a); err != nil {
		return nil, fmt.Errorf("decode action %s: %w", rec.ID, err)
	}
	a.ID = rec.ID
	a.ActionCode = rec.ActionCode
	a.Status = rec.Status
	a.Version = rec.Version
	a.CreatedAt = rec.CreatedAt
	a.UpdatedAt = rec.UpdatedAt
	return &a, nil
}

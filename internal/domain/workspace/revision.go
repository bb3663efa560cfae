package workspace

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Revision is an append-only audit record of one mutation. It is never
// updated or deleted, and it outlives its subject.
type Revision struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectID    uuid.UUID `gorm:"type:uuid;column:subject_id;not null;index:idx_node_revisions_subject_created,priority:1" json:"subject_id"`
	SubjectTable string    `gorm:"column:subject_table;type:text;not null" json:"subject_table"`
	// OwnerID is the subject's owner when the revision was written.
	OwnerID uuid.UUID `gorm:"type:uuid;column:owner_id;not null;index" json:"owner_id"`

	Operation     Operation      `gorm:"column:operation;type:text;not null" json:"operation"`
	ChangedFields datatypes.JSON `gorm:"column:changed_fields;type:jsonb;not null" json:"changed_fields"`

	ActorType string     `gorm:"column:actor_type;type:text;not null" json:"actor_type"`
	ActorID   *uuid.UUID `gorm:"type:uuid;column:actor_id;index" json:"actor_id,omitempty"`
	BatchID   uuid.UUID  `gorm:"type:uuid;column:batch_id;not null;index" json:"batch_id"`

	OldData datatypes.JSON `gorm:"column:old_data;type:jsonb" json:"old_data,omitempty"`
	NewData datatypes.JSON `gorm:"column:new_data;type:jsonb" json:"new_data,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_node_revisions_subject_created,priority:2" json:"created_at"`
}

func (Revision) TableName() string { return "node_revisions" }

func (r *Revision) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if len(r.ChangedFields) == 0 {
		r.ChangedFields = datatypes.JSON([]byte("[]"))
	}
	return nil
}

// HasOldData reports whether a before-snapshot was recorded. NULL columns may
// scan back as a literal JSON null.
func (r *Revision) HasOldData() bool { return jsonPresent(r.OldData) }

func (r *Revision) HasNewData() bool { return jsonPresent(r.NewData) }

func jsonPresent(b datatypes.JSON) bool {
	return len(b) > 0 && string(b) != "null"
}

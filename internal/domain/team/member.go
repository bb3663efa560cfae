package team

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Member is a team membership row. The team layer owns and writes these;
// this module only reads them to resolve permission scopes.
type Member struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TeamID uuid.UUID `gorm:"type:uuid;column:team_id;not null;index" json:"team_id"`
	UserID uuid.UUID `gorm:"type:uuid;column:user_id;not null;uniqueIndex" json:"user_id"`
	Role   Role      `gorm:"column:role;type:text;not null;default:'editor'" json:"role"`

	// PageAccess is "all" or "selected".
	PageAccess     string         `gorm:"column:page_access;type:text;not null;default:'all'" json:"page_access"`
	AllowedPageIDs datatypes.JSON `gorm:"column:allowed_page_ids;type:jsonb" json:"allowed_page_ids,omitempty"`
	// CanWrite overrides the role default when set.
	CanWrite *bool `gorm:"column:can_write" json:"can_write,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Member) TableName() string { return "team_members" }

func (m *Member) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

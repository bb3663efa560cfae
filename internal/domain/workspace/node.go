package workspace

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NodeType string

const (
	NodeTypePage        NodeType = "page"
	NodeTypeDatabase    NodeType = "database"
	NodeTypeDatabaseRow NodeType = "database_row"
	NodeTypeImage       NodeType = "image"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeTypePage, NodeTypeDatabase, NodeTypeDatabaseRow, NodeTypeImage:
		return true
	}
	return false
}

type Visibility string

const (
	VisibilityPrivate   Visibility = "private"
	VisibilityTeam      Visibility = "team"
	VisibilityShared    Visibility = "shared"
	VisibilityPublished Visibility = "published"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityTeam, VisibilityShared, VisibilityPublished:
		return true
	}
	return false
}

// Node is one entry of the self-referencing document tree.
type Node struct {
	ID       uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ParentID *uuid.UUID `gorm:"type:uuid;column:parent_id;index" json:"parent_id,omitempty"`
	OwnerID  uuid.UUID  `gorm:"type:uuid;column:owner_id;not null;index" json:"owner_id"`

	Type     NodeType `gorm:"column:type;type:text;not null;default:'page'" json:"type"`
	Title    string   `gorm:"column:title;type:text;not null;default:''" json:"title"`
	Icon     *string  `gorm:"column:icon;type:text" json:"icon,omitempty"`
	CoverURL *string  `gorm:"column:cover_url;type:text" json:"cover_url,omitempty"`

	// Content is the rich-text block tree; opaque to this layer.
	Content    datatypes.JSON `gorm:"column:content;type:jsonb" json:"content"`
	Properties datatypes.JSON `gorm:"column:properties;type:jsonb" json:"properties"`

	IsPinned  bool    `gorm:"column:is_pinned;not null;default:false" json:"is_pinned"`
	SortOrder float64 `gorm:"column:sort_order;not null;default:0" json:"sort_order"`

	Visibility    Visibility `gorm:"column:visibility;type:text;not null;default:'private';index" json:"visibility"`
	ShareToken    *string    `gorm:"column:share_token;type:text;uniqueIndex" json:"share_token,omitempty"`
	PublishedSlug *string    `gorm:"column:published_slug;type:text;uniqueIndex" json:"published_slug,omitempty"`

	// SearchText is a plain-text projection of title and content.
	SearchText string `gorm:"column:search_text;type:text;not null;default:''" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;index" json:"updated_at"`

	// ReadOnly is set on listing results the caller sees through team sharing.
	ReadOnly bool `gorm:"-" json:"read_only,omitempty"`
}

func (Node) TableName() string { return "nodes" }

func (n *Node) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Type == "" {
		n.Type = NodeTypePage
	}
	if n.Visibility == "" {
		n.Visibility = VisibilityPrivate
	}
	if len(n.Properties) == 0 {
		n.Properties = datatypes.JSON([]byte("{}"))
	}
	if len(n.Content) == 0 {
		n.Content = datatypes.JSON([]byte("[]"))
	}
	return nil
}

// Crumb is one breadcrumb entry.
type Crumb struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Icon  *string   `json:"icon,omitempty"`
}

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/workspace-core/internal/domain/team"
	"github.com/yungbote/workspace-core/internal/domain/workspace"
)

// Models lists every table this module touches.
func Models() []any {
	return []any{
		&workspace.Node{},
		&workspace.Revision{},
		&team.Member{},
	}
}

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// EnsureNodeIndexes adds the postgres-only indexes gorm tags cannot express.
func EnsureNodeIndexes(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	// Full-text search over the denormalized plain-text projection.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_nodes_search_fts
		ON nodes
		USING GIN (to_tsvector('english', search_text));
	`).Error; err != nil {
		return fmt.Errorf("create idx_nodes_search_fts: %w", err)
	}
	// Children listing in display order.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_nodes_parent_sort
		ON nodes (parent_id, is_pinned DESC, sort_order, created_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_nodes_parent_sort: %w", err)
	}
	// Team listing: visible nodes by owner.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_nodes_owner_visibility
		ON nodes (owner_id, visibility);
	`).Error; err != nil {
		return fmt.Errorf("create idx_nodes_owner_visibility: %w", err)
	}
	return nil
}

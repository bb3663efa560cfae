package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/workspace-core/internal/domain/team"
	"github.com/yungbote/workspace-core/internal/domain/workspace"
)

// SeedNode inserts a node directly, bypassing the audit trail.
func SeedNode(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, parentID *uuid.UUID, title string) *workspace.Node {
	tb.Helper()
	now := time.Now().UTC()
	n := &workspace.Node{
		ID:         uuid.New(),
		ParentID:   parentID,
		OwnerID:    ownerID,
		Type:       workspace.NodeTypePage,
		Title:      title,
		Visibility: workspace.VisibilityPrivate,
		Content:    datatypes.JSON([]byte("[]")),
		Properties: datatypes.JSON([]byte("{}")),
		SearchText: title,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.WithContext(ctx).Create(n).Error; err != nil {
		tb.Fatalf("seed node: %v", err)
	}
	return n
}

func SeedMember(tb testing.TB, ctx context.Context, tx *gorm.DB, teamID, userID uuid.UUID, role team.Role, pageAccess string, allowed []uuid.UUID) *team.Member {
	tb.Helper()
	raw, err := json.Marshal(allowed)
	if err != nil {
		tb.Fatalf("marshal allowed ids: %v", err)
	}
	now := time.Now().UTC()
	m := &team.Member{
		ID:             uuid.New(),
		TeamID:         teamID,
		UserID:         userID,
		Role:           role,
		PageAccess:     pageAccess,
		AllowedPageIDs: datatypes.JSON(raw),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed member: %v", err)
	}
	return m
}

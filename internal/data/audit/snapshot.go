package audit

import (
	"encoding/json"
	"fmt"

	types "github.com/yungbote/workspace-core/internal/domain/workspace"
)

// nodeSnapshot fixes the field names recorded for nodes. SearchText is
// derived from content and is not recorded.
type nodeSnapshot struct {
	ID            string          `json:"id"`
	ParentID      *string         `json:"parent_id"`
	OwnerID       string          `json:"owner_id"`
	Type          string          `json:"type"`
	Title         string          `json:"title"`
	Icon          *string         `json:"icon"`
	CoverURL      *string         `json:"cover_url"`
	Content       json.RawMessage `json:"content"`
	Properties    json.RawMessage `json:"properties"`
	IsPinned      bool            `json:"is_pinned"`
	SortOrder     float64         `json:"sort_order"`
	Visibility    string          `json:"visibility"`
	ShareToken    *string         `json:"share_token"`
	PublishedSlug *string         `json:"published_slug"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

// NodeSnapshot renders n as a generic map so snapshots compare by value.
func NodeSnapshot(n *types.Node) (map[string]any, error) {
	if n == nil {
		return nil, nil
	}
	s := nodeSnapshot{
		ID:            n.ID.String(),
		OwnerID:       n.OwnerID.String(),
		Type:          string(n.Type),
		Title:         n.Title,
		Icon:          n.Icon,
		CoverURL:      n.CoverURL,
		Content:       rawOrNull(n.Content),
		Properties:    rawOrNull(n.Properties),
		IsPinned:      n.IsPinned,
		SortOrder:     n.SortOrder,
		Visibility:    string(n.Visibility),
		ShareToken:    n.ShareToken,
		PublishedSlug: n.PublishedSlug,
		CreatedAt:     n.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		UpdatedAt:     n.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
	}
	if n.ParentID != nil {
		p := n.ParentID.String()
		s.ParentID = &p
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal node snapshot: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode node snapshot: %w", err)
	}
	return out, nil
}

func rawOrNull(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}

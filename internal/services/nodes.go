package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/workspace-core/internal/data/actorctx"
	teamrepo "github.com/yungbote/workspace-core/internal/data/repos/team"
	repos "github.com/yungbote/workspace-core/internal/data/repos/workspace"
	types "github.com/yungbote/workspace-core/internal/domain/workspace"
	"github.com/yungbote/workspace-core/internal/observability"
	"github.com/yungbote/workspace-core/internal/pkg/dbctx"
	"github.com/yungbote/workspace-core/internal/pkg/optional"
	"github.com/yungbote/workspace-core/internal/platform/apierr"
	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/realtime"
)

const (
	BreadcrumbDepth  = 10
	defaultListLimit = 100
	maxListLimit     = 500
	defaultSearchHit = 20
	maxSearchHit     = 100
	publishTimeout   = 2 * time.Second
)

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,118}[a-z0-9])?$`)

// EventPublisher is the write side of the realtime bus.
type EventPublisher interface {
	Publish(ctx context.Context, ev realtime.ChangeEvent) error
}

type CreateNodeInput struct {
	ParentID   *uuid.UUID       `json:"parent_id"`
	Type       types.NodeType   `json:"type"`
	Title      string           `json:"title"`
	Icon       *string          `json:"icon"`
	CoverURL   *string          `json:"cover_url"`
	Content    json.RawMessage  `json:"content"`
	Properties json.RawMessage  `json:"properties"`
	IsPinned   bool             `json:"is_pinned"`
	SortOrder  float64          `json:"sort_order"`
	Visibility types.Visibility `json:"visibility"`
}

// NodePatch changes only the fields that are Set. ParentID, Icon and
// CoverURL accept null; the other fields reject it.
type NodePatch struct {
	ParentID   optional.Field[uuid.UUID]       `json:"parent_id"`
	Title      optional.Field[string]          `json:"title"`
	Icon       optional.Field[string]          `json:"icon"`
	CoverURL   optional.Field[string]          `json:"cover_url"`
	Content    optional.Field[json.RawMessage] `json:"content"`
	Properties optional.Field[json.RawMessage] `json:"properties"`
	// MergeProperties is merged key by key into the stored properties,
	// after Properties when both are present.
	MergeProperties optional.Field[json.RawMessage]  `json:"merge_properties"`
	IsPinned        optional.Field[bool]             `json:"is_pinned"`
	SortOrder       optional.Field[float64]          `json:"sort_order"`
	Visibility      optional.Field[types.Visibility] `json:"visibility"`
}

func (p NodePatch) empty() bool {
	return !p.ParentID.Set && !p.Title.Set && !p.Icon.Set && !p.CoverURL.Set &&
		!p.Content.Set && !p.Properties.Set && !p.MergeProperties.Set &&
		!p.IsPinned.Set && !p.SortOrder.Set && !p.Visibility.Set
}

type NodeFilter struct {
	ParentID   *uuid.UUID
	RootOnly   bool
	Type       types.NodeType
	PinnedOnly bool
	Limit      int
	Offset     int
}

type NodeService interface {
	Create(ctx context.Context, p Principal, in CreateNodeInput) (*types.Node, error)
	Get(ctx context.Context, p Principal, id uuid.UUID) (*types.Node, error)
	Update(ctx context.Context, p Principal, id uuid.UUID, patch NodePatch) (*types.Node, error)
	// Delete removes id and every descendant, returning how many rows went.
	Delete(ctx context.Context, p Principal, id uuid.UUID) (int, error)

	Ancestors(ctx context.Context, p Principal, id uuid.UUID, maxDepth int) ([]*types.Node, error)
	Breadcrumb(ctx context.Context, p Principal, id uuid.UUID) ([]types.Crumb, error)
	ListVisible(ctx context.Context, p Principal, f NodeFilter) ([]*types.Node, error)
	Search(ctx context.Context, p Principal, query string, limit int) ([]*types.Node, error)

	AppendText(ctx context.Context, p Principal, id uuid.UUID, text string) (*types.Node, error)
	Share(ctx context.Context, p Principal, id uuid.UUID) (*types.Node, error)
	Publish(ctx context.Context, p Principal, id uuid.UUID, slug string) (*types.Node, error)
	GetShared(ctx context.Context, token string) (*types.Node, error)
	GetPublished(ctx context.Context, slug string) (*types.Node, error)
}

type nodeService struct {
	log       *logger.Logger
	runner    actorctx.Runner
	nodes     repos.NodeRepo
	members   teamrepo.MemberRepo
	publisher EventPublisher
	metrics   *observability.Metrics
}

// NewNodeService expects nodes to be the audited repository; every write
// goes through it inside runner.WithActor.
func NewNodeService(
	log *logger.Logger,
	runner actorctx.Runner,
	nodes repos.NodeRepo,
	members teamrepo.MemberRepo,
	publisher EventPublisher,
	metrics *observability.Metrics,
) NodeService {
	return &nodeService{
		log:       log.With("service", "NodeService"),
		runner:    runner,
		nodes:     nodes,
		members:   members,
		publisher: publisher,
		metrics:   metrics,
	}
}

// view is what one principal can see: its own nodes plus teammates' nodes
// that are not private.
type view struct {
	userID    uuid.UUID
	teammates map[uuid.UUID]struct{}
}

func (v view) canSee(n *types.Node) bool {
	if n == nil {
		return false
	}
	if n.OwnerID == v.userID {
		return true
	}
	_, mate := v.teammates[n.OwnerID]
	return mate && n.Visibility != types.VisibilityPrivate
}

func (v view) teammateIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(v.teammates))
	for id := range v.teammates {
		out = append(out, id)
	}
	return out
}

func (v view) mark(nodes ...*types.Node) {
	for _, n := range nodes {
		if n != nil {
			n.ReadOnly = n.OwnerID != v.userID
		}
	}
}

func (s *nodeService) viewFor(dbc dbctx.Context, p Principal) (view, error) {
	v := view{userID: p.UserID, teammates: map[uuid.UUID]struct{}{}}
	m, err := s.members.GetByUserID(dbc, p.UserID)
	if err != nil {
		return v, apierr.MapDBError("nodes.view", err)
	}
	if m == nil {
		return v, nil
	}
	ids, err := s.members.ListUserIDsByTeam(dbc, m.TeamID)
	if err != nil {
		return v, apierr.MapDBError("nodes.view", err)
	}
	for _, id := range ids {
		if id != p.UserID {
			v.teammates[id] = struct{}{}
		}
	}
	return v, nil
}

// loadVisible returns NotFound both for missing nodes and for nodes the
// caller may not see.
func (s *nodeService) loadVisible(dbc dbctx.Context, v view, id uuid.UUID, op string) (*types.Node, error) {
	n, err := s.nodes.GetByID(dbc, id)
	if err != nil {
		return nil, apierr.MapDBError(op, err)
	}
	if !v.canSee(n) {
		return nil, apierr.NotFound(op, "node not found")
	}
	return n, nil
}

func (s *nodeService) loadOwned(dbc dbctx.Context, v view, id uuid.UUID, op string) (*types.Node, error) {
	n, err := s.loadVisible(dbc, v, id, op)
	if err != nil {
		return nil, err
	}
	if n.OwnerID != v.userID {
		return nil, apierr.Forbidden(op, "node is shared read-only")
	}
	return n, nil
}

func requirePrincipal(p Principal, op string) error {
	if p.UserID == uuid.Nil {
		return apierr.InvalidInput(op, "principal is required")
	}
	return nil
}

func (s *nodeService) Create(ctx context.Context, p Principal, in CreateNodeInput) (_ *types.Node, err error) {
	const op = "nodes.create"
	ctx, span := observability.StartSpan(orBackground(ctx), "NodeService.Create")
	defer func() { observability.EndSpan(span, err) }()

	if err := requirePrincipal(p, op); err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = types.NodeTypePage
	}
	if !in.Type.Valid() {
		return nil, apierr.InvalidInput(op, "unknown node type")
	}
	if in.Visibility == "" {
		in.Visibility = types.VisibilityPrivate
	}
	if !in.Visibility.Valid() {
		return nil, apierr.InvalidInput(op, "unknown visibility")
	}
	content, err := normalizeContent(in.Content, op)
	if err != nil {
		return nil, err
	}
	props, err := normalizeProperties(in.Properties, op)
	if err != nil {
		return nil, err
	}

	v, err := s.viewFor(dbctx.Context{Ctx: ctx}, p)
	if err != nil {
		return nil, err
	}

	var created *types.Node
	err = s.runner.WithActor(ctx, p.actor(), func(dbc dbctx.Context) error {
		if in.ParentID != nil {
			if _, err := s.loadVisible(dbc, v, *in.ParentID, op); err != nil {
				return err
			}
		}
		n := &types.Node{
			ID:         uuid.New(),
			ParentID:   in.ParentID,
			OwnerID:    p.UserID,
			Type:       in.Type,
			Title:      strings.TrimSpace(in.Title),
			Icon:       in.Icon,
			CoverURL:   in.CoverURL,
			Content:    content,
			Properties: props,
			IsPinned:   in.IsPinned,
			SortOrder:  in.SortOrder,
			Visibility: in.Visibility,
		}
		n.SearchText = types.SearchText(n.Title, n.Content)
		out, err := s.nodes.Create(dbc, []*types.Node{n})
		if err != nil {
			return apierr.MapDBError(op, err)
		}
		created = out[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishChanges(ctx, "INSERT", false, created)
	return created, nil
}

func (s *nodeService) Get(ctx context.Context, p Principal, id uuid.UUID) (*types.Node, error) {
	const op = "nodes.get"
	if err := requirePrincipal(p, op); err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: orBackground(ctx)}
	v, err := s.viewFor(dbc, p)
	if err != nil {
		return nil, err
	}
	n, err := s.loadVisible(dbc, v, id, op)
	if err != nil {
		return nil, err
	}
	v.mark(n)
	return n, nil
}

func (s *nodeService) Update(ctx context.Context, p Principal, id uuid.UUID, patch NodePatch) (_ *types.Node, err error) {
	const op = "nodes.update"
	ctx, span := observability.StartSpan(orBackground(ctx), "NodeService.Update", attribute.String("node.id", id.String()))
	defer func() { observability.EndSpan(span, err) }()

	if err := requirePrincipal(p, op); err != nil {
		return nil, err
	}
	if patch.empty() {
		return nil, apierr.InvalidInput(op, "patch has no fields")
	}
	v, err := s.viewFor(dbctx.Context{Ctx: ctx}, p)
	if err != nil {
		return nil, err
	}

	var (
		updated *types.Node
		teamSaw bool
	)
	err = s.runner.WithActor(ctx, p.actor(), func(dbc dbctx.Context) error {
		current, err := s.loadOwned(dbc, v, id, op)
		if err != nil {
			return err
		}
		teamSaw = current.Visibility != types.VisibilityPrivate
		cols, err := s.patchColumns(dbc, v, current, patch)
		if err != nil {
			return err
		}
		out, err := s.nodes.Update(dbc, id, cols)
		if err != nil {
			return apierr.MapDBError(op, err)
		}
		updated = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishChanges(ctx, "UPDATE", teamSaw, updated)
	return updated, nil
}

// patchColumns turns a patch into column updates, validating moves against
// the current tree.
func (s *nodeService) patchColumns(dbc dbctx.Context, v view, current *types.Node, patch NodePatch) (map[string]any, error) {
	const op = "nodes.update"
	cols := map[string]any{}

	if patch.ParentID.Set {
		if patch.ParentID.Null {
			cols["parent_id"] = nil
		} else {
			parentID := patch.ParentID.Value
			if parentID == current.ID {
				return nil, apierr.InvalidInput(op, "node cannot be its own parent")
			}
			if _, err := s.loadVisible(dbc, v, parentID, op); err != nil {
				return nil, err
			}
			chain, err := s.nodes.Ancestors(dbc, parentID, repos.MaxTreeDepth)
			if err != nil {
				return nil, apierr.MapDBError(op, err)
			}
			for _, a := range chain {
				if a.ID == current.ID {
					return nil, apierr.InvalidInput(op, "node cannot move under its own descendant")
				}
			}
			cols["parent_id"] = parentID
		}
	}

	title := current.Title
	if patch.Title.Set {
		if patch.Title.Null {
			return nil, apierr.InvalidInput(op, "title cannot be null")
		}
		title = strings.TrimSpace(patch.Title.Value)
		cols["title"] = title
	}
	if patch.Icon.Set {
		cols["icon"] = patch.Icon.Ptr()
	}
	if patch.CoverURL.Set {
		cols["cover_url"] = patch.CoverURL.Ptr()
	}

	content := current.Content
	if patch.Content.Set {
		if patch.Content.Null {
			return nil, apierr.InvalidInput(op, "content cannot be null")
		}
		c, err := normalizeContent(patch.Content.Value, op)
		if err != nil {
			return nil, err
		}
		content = c
		cols["content"] = c
	}
	if patch.Title.Set || patch.Content.Set {
		cols["search_text"] = types.SearchText(title, content)
	}

	if patch.Properties.Set || patch.MergeProperties.Set {
		props := current.Properties
		if patch.Properties.Set {
			if patch.Properties.Null {
				return nil, apierr.InvalidInput(op, "properties cannot be null")
			}
			p, err := normalizeProperties(patch.Properties.Value, op)
			if err != nil {
				return nil, err
			}
			props = p
		}
		if patch.MergeProperties.Set {
			if patch.MergeProperties.Null {
				return nil, apierr.InvalidInput(op, "merge_properties cannot be null")
			}
			merged, err := mergeProperties(props, patch.MergeProperties.Value, op)
			if err != nil {
				return nil, err
			}
			props = merged
		}
		cols["properties"] = props
	}

	if patch.IsPinned.Set {
		if patch.IsPinned.Null {
			return nil, apierr.InvalidInput(op, "is_pinned cannot be null")
		}
		cols["is_pinned"] = patch.IsPinned.Value
	}
	if patch.SortOrder.Set {
		if patch.SortOrder.Null {
			return nil, apierr.InvalidInput(op, "sort_order cannot be null")
		}
		cols["sort_order"] = patch.SortOrder.Value
	}
	if patch.Visibility.Set {
		if patch.Visibility.Null || !patch.Visibility.Value.Valid() {
			return nil, apierr.InvalidInput(op, "unknown visibility")
		}
		cols["visibility"] = patch.Visibility.Value
	}
	return cols, nil
}

func (s *nodeService) Delete(ctx context.Context, p Principal, id uuid.UUID) (_ int, err error) {
	const op = "nodes.delete"
	ctx, span := observability.StartSpan(orBackground(ctx), "NodeService.Delete", attribute.String("node.id", id.String()))
	defer func() { observability.EndSpan(span, err) }()

	if err := requirePrincipal(p, op); err != nil {
		return 0, err
	}
	v, err := s.viewFor(dbctx.Context{Ctx: ctx}, p)
	if err != nil {
		return 0, err
	}

	var removed []*types.Node
	err = s.runner.WithActor(ctx, p.actor(), func(dbc dbctx.Context) error {
		root, err := s.loadOwned(dbc, v, id, op)
		if err != nil {
			return err
		}
		below, err := s.nodes.DescendantIDs(dbc, id)
		if err != nil {
			return apierr.MapDBError(op, err)
		}
		ids := append(below, id)
		existing, err := s.nodes.GetByIDs(dbc, below)
		if err != nil {
			return apierr.MapDBError(op, err)
		}
		if _, err := s.nodes.DeleteByIDs(dbc, ids); err != nil {
			return apierr.MapDBError(op, err)
		}
		removed = append(existing, root)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.publishChanges(ctx, "DELETE", false, removed...)
	return len(removed), nil
}

func (s *nodeService) Ancestors(ctx context.Context, p Principal, id uuid.UUID, maxDepth int) ([]*types.Node, error) {
	const op = "nodes.ancestors"
	if err := requirePrincipal(p, op); err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		return nil, apierr.InvalidInput(op, "max depth must be positive")
	}
	dbc := dbctx.Context{Ctx: orBackground(ctx)}
	v, err := s.viewFor(dbc, p)
	if err != nil {
		return nil, err
	}
	start, err := s.nodes.GetByID(dbc, id)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !v.canSee(start)) {
		return []*types.Node{}, nil
	}
	if err != nil {
		return nil, apierr.MapDBError(op, err)
	}
	path, err := s.nodes.Ancestors(dbc, id, maxDepth)
	if err != nil {
		return nil, apierr.MapDBError(op, err)
	}
	// Keep only the visible suffix ending at the node, so a hidden ancestor
	// never surfaces through a descendant.
	for i := len(path) - 1; i >= 0; i-- {
		if !v.canSee(path[i]) {
			path = path[i+1:]
			break
		}
	}
	v.mark(path...)
	return path, nil
}

func (s *nodeService) Breadcrumb(ctx context.Context, p Principal, id uuid.UUID) ([]types.Crumb, error) {
	path, err := s.Ancestors(ctx, p, id, BreadcrumbDepth)
	if err != nil {
		return nil, err
	}
	crumbs := make([]types.Crumb, 0, len(path))
	for _, n := range path {
		crumbs = append(crumbs, types.Crumb{ID: n.ID, Title: n.Title, Icon: n.Icon})
	}
	return crumbs, nil
}

func (s *nodeService) ListVisible(ctx context.Context, p Principal, f NodeFilter) ([]*types.Node, error) {
	const op = "nodes.list"
	if err := requirePrincipal(p, op); err != nil {
		return nil, err
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, apierr.InvalidInput(op, "unknown node type")
	}
	dbc := dbctx.Context{Ctx: orBackground(ctx)}
	v, err := s.viewFor(dbc, p)
	if err != nil {
		return nil, err
	}
	out, err := s.nodes.List(dbc, repos.NodeQuery{
		OwnerID:     p.UserID,
		TeammateIDs: v.teammateIDs(),
		ParentID:    f.ParentID,
		RootOnly:    f.RootOnly,
		Type:        f.Type,
		PinnedOnly:  f.PinnedOnly,
		Limit:       clamp(f.Limit, defaultListLimit, maxListLimit),
		Offset:      max(f.Offset, 0),
	})
	if err != nil {
		return nil, apierr.MapDBError(op, err)
	}
	v.mark(out...)
	return out, nil
}

func (s *nodeService) Search(ctx context.Context, p Principal, query string, limit int) ([]*types.Node, error) {
	const op = "nodes.search"
	if err := requirePrincipal(p, op); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apierr.InvalidInput(op, "query is required")
	}
	dbc := dbctx.Context{Ctx: orBackground(ctx)}
	v, err := s.viewFor(dbc, p)
	if err != nil {
		return nil, err
	}
	out, err := s.nodes.List(dbc, repos.NodeQuery{
		OwnerID:     p.UserID,
		TeammateIDs: v.teammateIDs(),
		Text:        query,
		Limit:       clamp(limit, defaultSearchHit, maxSearchHit),
	})
	if err != nil {
		return nil, apierr.MapDBError(op, err)
	}
	v.mark(out...)
	return out, nil
}

func (s *nodeService) AppendText(ctx context.Context, p Principal, id uuid.UUID, text string) (_ *types.Node, err error) {
	const op = "nodes.append_text"
	ctx, span := observability.StartSpan(orBackground(ctx), "NodeService.AppendText", attribute.String("node.id", id.String()))
	defer func() { observability.EndSpan(span, err) }()

	if err := requirePrincipal(p, op); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apierr.InvalidInput(op, "text cannot be empty")
	}
	v, err := s.viewFor(dbctx.Context{Ctx: ctx}, p)
	if err != nil {
		return nil, err
	}

	var updated *types.Node
	err = s.runner.WithActor(ctx, p.actor(), func(dbc dbctx.Context) error {
		current, err := s.loadOwned(dbc, v, id, op)
		if err != nil {
			return err
		}
		if current.Type != types.NodeTypePage {
			return apierr.InvalidInput(op, "text can only be appended to a page")
		}
		var blocks []any
		if err := json.Unmarshal(current.Content, &blocks); err != nil {
			blocks = []any{}
		}
		blocks = append(blocks, types.ParagraphBlock(text))
		raw, err := json.Marshal(blocks)
		if err != nil {
			return err
		}
		out, err := s.nodes.Update(dbc, id, map[string]any{
			"content":     datatypes.JSON(raw),
			"search_text": types.SearchText(current.Title, raw),
		})
		if err != nil {
			return apierr.MapDBError(op, err)
		}
		updated = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishChanges(ctx, "UPDATE", false, updated)
	return updated, nil
}

func (s *nodeService) Share(ctx context.Context, p Principal, id uuid.UUID) (_ *types.Node, err error) {
	const op = "nodes.share"
	if err := requirePrincipal(p, op); err != nil {
		return nil, err
	}
	v, err := s.viewFor(dbctx.Context{Ctx: orBackground(ctx)}, p)
	if err != nil {
		return nil, err
	}

	var updated *types.Node
	err = s.runner.WithActor(orBackground(ctx), p.actor(), func(dbc dbctx.Context) error {
		current, err := s.loadOwned(dbc, v, id, op)
		if err != nil {
			return err
		}
		cols := map[string]any{}
		if current.ShareToken == nil || *current.ShareToken == "" {
			token, err := newShareToken()
			if err != nil {
				return apierr.Wrap(apierr.CodeInternal, op, err)
			}
			cols["share_token"] = token
		}
		if current.Visibility != types.VisibilityPublished {
			cols["visibility"] = types.VisibilityShared
		}
		out, err := s.nodes.Update(dbc, id, cols)
		if err != nil {
			return apierr.MapDBError(op, err)
		}
		updated = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishChanges(ctx, "UPDATE", false, updated)
	return updated, nil
}

func (s *nodeService) Publish(ctx context.Context, p Principal, id uuid.UUID, slug string) (_ *types.Node, err error) {
	const op = "nodes.publish"
	if err := requirePrincipal(p, op); err != nil {
		return nil, err
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !slugPattern.MatchString(slug) {
		return nil, apierr.InvalidInput(op, "slug must be lowercase letters, digits and dashes")
	}
	v, err := s.viewFor(dbctx.Context{Ctx: orBackground(ctx)}, p)
	if err != nil {
		return nil, err
	}

	var updated *types.Node
	err = s.runner.WithActor(orBackground(ctx), p.actor(), func(dbc dbctx.Context) error {
		if _, err := s.loadOwned(dbc, v, id, op); err != nil {
			return err
		}
		out, err := s.nodes.Update(dbc, id, map[string]any{
			"published_slug": slug,
			"visibility":     types.VisibilityPublished,
		})
		if err != nil {
			mapped := apierr.MapDBError(op, err)
			if apierr.IsCode(mapped, apierr.CodeConflict) {
				return apierr.Conflict(op, "slug already in use")
			}
			return mapped
		}
		updated = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishChanges(ctx, "UPDATE", false, updated)
	return updated, nil
}

func (s *nodeService) GetShared(ctx context.Context, token string) (*types.Node, error) {
	const op = "nodes.get_shared"
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apierr.NotFound(op, "node not found")
	}
	n, err := s.nodes.GetByShareToken(dbctx.Context{Ctx: orBackground(ctx)}, token)
	if err != nil {
		return nil, apierr.MapDBError(op, err)
	}
	n.ReadOnly = true
	return n, nil
}

func (s *nodeService) GetPublished(ctx context.Context, slug string) (*types.Node, error) {
	const op = "nodes.get_published"
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, apierr.NotFound(op, "node not found")
	}
	n, err := s.nodes.GetByPublishedSlug(dbctx.Context{Ctx: orBackground(ctx)}, slug)
	if err != nil {
		return nil, apierr.MapDBError(op, err)
	}
	n.ReadOnly = true
	return n, nil
}

// publishChanges runs after commit. A change reaches the owner's user
// channel and, when the team can see the node or could before the write
// (teamSaw), every teammate's channel. Private nodes never reach other
// users' streams. Failures are logged and dropped: the write has already
// succeeded.
func (s *nodeService) publishChanges(ctx context.Context, op string, teamSaw bool, nodes ...*types.Node) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	teams := map[uuid.UUID][]uuid.UUID{}
	for _, n := range nodes {
		if n == nil {
			continue
		}
		change := realtime.NodeChange{ID: n.ID, Op: op, OwnerID: n.OwnerID, ParentID: n.ParentID}
		audience := []uuid.UUID{n.OwnerID}
		if teamSaw || n.Visibility != types.VisibilityPrivate {
			audience = append(audience, s.teammatesOf(pubCtx, teams, n.OwnerID)...)
		}
		for _, userID := range audience {
			s.publishOne(pubCtx, realtime.UserChannel(userID), change)
		}
	}
}

// teammatesOf lists the owner's teammates, owner excluded, memoized in seen
// for the duration of one publish.
func (s *nodeService) teammatesOf(ctx context.Context, seen map[uuid.UUID][]uuid.UUID, ownerID uuid.UUID) []uuid.UUID {
	if ids, ok := seen[ownerID]; ok {
		return ids
	}
	dbc := dbctx.Context{Ctx: ctx}
	var out []uuid.UUID
	m, err := s.members.GetByUserID(dbc, ownerID)
	if err == nil && m != nil {
		var ids []uuid.UUID
		ids, err = s.members.ListUserIDsByTeam(dbc, m.TeamID)
		for _, id := range ids {
			if id != ownerID {
				out = append(out, id)
			}
		}
	}
	if err != nil {
		s.log.Warn("change event audience lookup failed", "owner_id", ownerID, "error", err)
	}
	seen[ownerID] = out
	return out
}

func (s *nodeService) publishOne(ctx context.Context, channel string, payload any) {
	ev, err := realtime.NewEvent(channel, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		s.metrics.IncRealtimePublished(channel, "error")
		s.log.Warn("change event publish failed", "channel", channel, "error", err)
		return
	}
	s.metrics.IncRealtimePublished(channel, "ok")
}

func normalizeContent(raw json.RawMessage, op string) (datatypes.JSON, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return datatypes.JSON([]byte("[]")), nil
	}
	var blocks []any
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, apierr.InvalidInput(op, "content must be a JSON array of blocks")
	}
	return datatypes.JSON(append([]byte(nil), raw...)), nil
}

func normalizeProperties(raw json.RawMessage, op string) (datatypes.JSON, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return datatypes.JSON([]byte("{}")), nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, apierr.InvalidInput(op, "properties must be a JSON object")
	}
	return datatypes.JSON(append([]byte(nil), raw...)), nil
}

// mergeProperties applies patch keys over base, like jsonb concatenation.
func mergeProperties(base datatypes.JSON, patch json.RawMessage, op string) (datatypes.JSON, error) {
	current := map[string]any{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &current); err != nil || current == nil {
			current = map[string]any{}
		}
	}
	var delta map[string]any
	if err := json.Unmarshal(patch, &delta); err != nil || delta == nil {
		return nil, apierr.InvalidInput(op, "merge_properties must be a JSON object")
	}
	for k, v := range delta {
		current[k] = v
	}
	raw, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func newShareToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func clamp(v, def, hi int) int {
	if v <= 0 {
		return def
	}
	if v > hi {
		return hi
	}
	return v
}

// orBackground lets callers pass a nil context.
func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

package workspace

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/workspace-core/internal/domain/workspace"
	"github.com/yungbote/workspace-core/internal/pkg/dbctx"
	"github.com/yungbote/workspace-core/internal/platform/logger"
)

// MaxTreeDepth bounds descendant walks.
const MaxTreeDepth = 1000

// NodeQuery selects nodes visible to one principal.
type NodeQuery struct {
	// OwnerID matches every node the principal owns.
	OwnerID uuid.UUID
	// TeammateIDs match their non-private nodes.
	TeammateIDs []uuid.UUID

	ParentID   *uuid.UUID
	RootOnly   bool
	Type       types.NodeType
	PinnedOnly bool
	// Text restricts to nodes whose search text matches.
	Text string

	Limit  int
	Offset int
}

type NodeRepo interface {
	Create(dbc dbctx.Context, nodes []*types.Node) ([]*types.Node, error)
	Update(dbc dbctx.Context, id uuid.UUID, cols map[string]any) (*types.Node, error)
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) (int64, error)

	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Node, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Node, error)
	GetForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.Node, error)
	GetByShareToken(dbc dbctx.Context, token string) (*types.Node, error)
	GetByPublishedSlug(dbc dbctx.Context, slug string) (*types.Node, error)

	Ancestors(dbc dbctx.Context, id uuid.UUID, maxDepth int) ([]*types.Node, error)
	DescendantIDs(dbc dbctx.Context, id uuid.UUID) ([]uuid.UUID, error)
	List(dbc dbctx.Context, q NodeQuery) ([]*types.Node, error)
}

type nodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNodeRepo(db *gorm.DB, baseLog *logger.Logger) NodeRepo {
	repoLog := baseLog.With("repo", "NodeRepo")
	return &nodeRepo{db: db, log: repoLog}
}

func (r *nodeRepo) Create(dbc dbctx.Context, nodes []*types.Node) ([]*types.Node, error) {
	if len(nodes) == 0 {
		return []*types.Node{}, nil
	}
	now := time.Now().UTC()
	for _, n := range nodes {
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if n.UpdatedAt.IsZero() {
			n.UpdatedAt = n.CreatedAt
		}
	}
	if err := dbc.DB(r.db).Create(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

// Update writes cols and returns the reloaded row; gorm.ErrRecordNotFound when
// the id does not exist.
func (r *nodeRepo) Update(dbc dbctx.Context, id uuid.UUID, cols map[string]any) (*types.Node, error) {
	transaction := dbc.DB(r.db)
	if cols == nil {
		cols = map[string]any{}
	}
	if _, ok := cols["updated_at"]; !ok {
		cols["updated_at"] = time.Now().UTC()
	}
	res := transaction.Model(&types.Node{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.GetByID(dbc, id)
}

func (r *nodeRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).Where("id IN ?", ids).Delete(&types.Node{})
	return res.RowsAffected, res.Error
}

func (r *nodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Node, error) {
	var n types.Node
	if err := dbc.DB(r.db).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *nodeRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Node, error) {
	var results []*types.Node
	if len(ids) == 0 {
		return results, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetForUpdate row-locks on postgres; other dialects rely on the
// transaction's own isolation.
func (r *nodeRepo) GetForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.Node, error) {
	transaction := dbc.DB(r.db)
	if transaction.Dialector.Name() == "postgres" {
		transaction = transaction.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var n types.Node
	if err := transaction.Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *nodeRepo) GetByShareToken(dbc dbctx.Context, token string) (*types.Node, error) {
	var n types.Node
	if err := dbc.DB(r.db).
		Where("share_token = ? AND visibility IN ?", token, []types.Visibility{types.VisibilityShared, types.VisibilityPublished}).
		First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *nodeRepo) GetByPublishedSlug(dbc dbctx.Context, slug string) (*types.Node, error) {
	var n types.Node
	if err := dbc.DB(r.db).
		Where("published_slug = ? AND visibility = ?", slug, types.VisibilityPublished).
		First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

type chainRow struct {
	ID    uuid.UUID
	Depth int
}

// Ancestors walks parent edges upward from id, one edge per step, stopping at
// a root or after maxDepth nodes. The result is ordered root first and ends
// with id itself. An exhausted walk returns the partial path.
func (r *nodeRepo) Ancestors(dbc dbctx.Context, id uuid.UUID, maxDepth int) ([]*types.Node, error) {
	if maxDepth <= 0 {
		return []*types.Node{}, nil
	}
	var rows []chainRow
	if err := dbc.DB(r.db).Raw(`
		WITH RECURSIVE chain AS (
			SELECT id, parent_id, 0 AS depth FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id, n.parent_id, c.depth + 1
			FROM nodes n
			JOIN chain c ON n.id = c.parent_id
			WHERE c.depth + 1 < ?
		)
		SELECT id, depth FROM chain ORDER BY depth DESC
	`, id, maxDepth).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []*types.Node{}, nil
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	found, err := r.GetByIDs(dbc, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*types.Node, len(found))
	for _, n := range found {
		byID[n.ID] = n
	}
	out := make([]*types.Node, 0, len(rows))
	for _, row := range rows {
		if n, ok := byID[row.ID]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// DescendantIDs returns every node below id, deepest first, so deleting in
// order never orphans a row mid-way.
func (r *nodeRepo) DescendantIDs(dbc dbctx.Context, id uuid.UUID) ([]uuid.UUID, error) {
	var rows []chainRow
	if err := dbc.DB(r.db).Raw(`
		WITH RECURSIVE tree AS (
			SELECT id, 0 AS depth FROM nodes WHERE parent_id = ?
			UNION
			SELECT n.id, t.depth + 1
			FROM nodes n
			JOIN tree t ON n.parent_id = t.id
			WHERE t.depth < ?
		)
		SELECT id, MAX(depth) AS depth FROM tree GROUP BY id ORDER BY MAX(depth) DESC
	`, id, MaxTreeDepth).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ID)
	}
	return out, nil
}

func (r *nodeRepo) List(dbc dbctx.Context, q NodeQuery) ([]*types.Node, error) {
	transaction := dbc.DB(r.db).Model(&types.Node{})

	if len(q.TeammateIDs) > 0 {
		transaction = transaction.Where(
			"(owner_id = ? OR (owner_id IN ? AND visibility <> ?))",
			q.OwnerID, q.TeammateIDs, types.VisibilityPrivate,
		)
	} else {
		transaction = transaction.Where("owner_id = ?", q.OwnerID)
	}

	switch {
	case q.ParentID != nil:
		transaction = transaction.Where("parent_id = ?", *q.ParentID)
	case q.RootOnly:
		transaction = transaction.Where("parent_id IS NULL")
	}
	if q.Type != "" {
		transaction = transaction.Where("type = ?", q.Type)
	}
	if q.PinnedOnly {
		transaction = transaction.Where("is_pinned = ?", true)
	}

	ranked := false
	text := strings.TrimSpace(q.Text)
	if text != "" {
		if transaction.Dialector.Name() == "postgres" {
			transaction = transaction.
				Where("to_tsvector('english', search_text) @@ plainto_tsquery('english', ?)", text).
				Clauses(clause.OrderBy{Expression: clause.Expr{
					SQL:                "ts_rank(to_tsvector('english', search_text), plainto_tsquery('english', ?)) DESC, id",
					Vars:               []any{text},
					WithoutParentheses: true,
				}})
			ranked = true
		} else {
			transaction = transaction.Where("LOWER(search_text) LIKE ?", "%"+strings.ToLower(text)+"%")
		}
	}

	if !ranked {
		transaction = transaction.Order("is_pinned DESC").Order("sort_order ASC").Order("created_at ASC")
	}
	if q.Limit > 0 {
		transaction = transaction.Limit(q.Limit)
	}
	if q.Offset > 0 {
		transaction = transaction.Offset(q.Offset)
	}

	var results []*types.Node
	if err := transaction.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

package audit

import (
	"fmt"

	"github.com/google/uuid"

	repos "github.com/yungbote/workspace-core/internal/data/repos/workspace"
	types "github.com/yungbote/workspace-core/internal/domain/workspace"
	"github.com/yungbote/workspace-core/internal/pkg/dbctx"
	"github.com/yungbote/workspace-core/internal/platform/apierr"
)

// NodeRepo records a revision for each row written through it. Reads pass
// through to the wrapped repo.
type NodeRepo struct {
	repos.NodeRepo
	rec *Recorder
}

func NewNodeRepo(inner repos.NodeRepo, rec *Recorder) *NodeRepo {
	return &NodeRepo{NodeRepo: inner, rec: rec}
}

var _ repos.NodeRepo = (*NodeRepo)(nil)

func requireAttributed(dbc dbctx.Context, op string) error {
	if !dbc.Attributed() {
		return apierr.New(apierr.CodeInternal, op, "audited write outside an actor-bound transaction")
	}
	return nil
}

func (r *NodeRepo) Create(dbc dbctx.Context, nodes []*types.Node) ([]*types.Node, error) {
	if err := requireAttributed(dbc, "audit.node.create"); err != nil {
		return nil, err
	}
	created, err := r.NodeRepo.Create(dbc, nodes)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(created))
	for _, n := range created {
		snap, err := NodeSnapshot(n)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			SubjectID:    n.ID,
			SubjectTable: n.TableName(),
			OwnerID:      n.OwnerID,
			Operation:    types.OpInsert,
			New:          snap,
		})
	}
	if _, err := r.rec.Record(dbc, entries...); err != nil {
		return nil, err
	}
	return created, nil
}

// Update locks the row, applies cols and records the before/after pair.
func (r *NodeRepo) Update(dbc dbctx.Context, id uuid.UUID, cols map[string]any) (*types.Node, error) {
	if err := requireAttributed(dbc, "audit.node.update"); err != nil {
		return nil, err
	}
	before, err := r.NodeRepo.GetForUpdate(dbc, id)
	if err != nil {
		return nil, err
	}
	oldSnap, err := NodeSnapshot(before)
	if err != nil {
		return nil, err
	}
	after, err := r.NodeRepo.Update(dbc, id, cols)
	if err != nil {
		return nil, err
	}
	newSnap, err := NodeSnapshot(after)
	if err != nil {
		return nil, err
	}
	if _, err := r.rec.Record(dbc, Entry{
		SubjectID:    after.ID,
		SubjectTable: after.TableName(),
		OwnerID:      after.OwnerID,
		Operation:    types.OpUpdate,
		Old:          oldSnap,
		New:          newSnap,
	}); err != nil {
		return nil, err
	}
	return after, nil
}

// DeleteByIDs records one DELETE revision per row actually removed, in the
// order of ids.
func (r *NodeRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) (int64, error) {
	if err := requireAttributed(dbc, "audit.node.delete"); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	existing, err := r.NodeRepo.GetByIDs(dbc, ids)
	if err != nil {
		return 0, err
	}
	byID := make(map[uuid.UUID]*types.Node, len(existing))
	for _, n := range existing {
		byID[n.ID] = n
	}
	deleted, err := r.NodeRepo.DeleteByIDs(dbc, ids)
	if err != nil {
		return 0, err
	}
	if deleted != int64(len(byID)) {
		return 0, fmt.Errorf("delete nodes: removed %d rows, expected %d", deleted, len(byID))
	}
	entries := make([]Entry, 0, len(byID))
	for _, id := range ids {
		n, ok := byID[id]
		if !ok {
			continue
		}
		delete(byID, id)
		snap, err := NodeSnapshot(n)
		if err != nil {
			return 0, err
		}
		entries = append(entries, Entry{
			SubjectID:    n.ID,
			SubjectTable: n.TableName(),
			OwnerID:      n.OwnerID,
			Operation:    types.OpDelete,
			Old:          snap,
		})
	}
	if _, err := r.rec.Record(dbc, entries...); err != nil {
		return 0, err
	}
	return deleted, nil
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/workspace-core/internal/data/actorctx"
	"github.com/yungbote/workspace-core/internal/data/repos/testutil"
	repos "github.com/yungbote/workspace-core/internal/data/repos/workspace"
	"github.com/yungbote/workspace-core/internal/domain/actor"
	types "github.com/yungbote/workspace-core/internal/domain/workspace"
	"github.com/yungbote/workspace-core/internal/pkg/dbctx"
	"github.com/yungbote/workspace-core/internal/platform/apierr"
)

type fixture struct {
	db        *gorm.DB
	runner    actorctx.Runner
	nodes     *NodeRepo
	revisions repos.RevisionRepo
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	revs := repos.NewRevisionRepo(db, log)
	return fixture{
		db:        db,
		runner:    actorctx.NewRunner(db),
		nodes:     NewNodeRepo(repos.NewNodeRepo(db, log), NewRecorder(revs, log, nil)),
		revisions: revs,
	}
}

func (f fixture) history(t *testing.T, id uuid.UUID) []*types.Revision {
	t.Helper()
	revs, err := f.revisions.ListBySubject(dbctx.Context{Ctx: context.Background()}, id, 100, 0, true)
	if err != nil {
		t.Fatalf("ListBySubject: %v", err)
	}
	return revs
}

func changed(t *testing.T, rev *types.Revision) []string {
	t.Helper()
	var out []string
	if err := json.Unmarshal(rev.ChangedFields, &out); err != nil {
		t.Fatalf("decode changed fields: %v", err)
	}
	return out
}

func TestNodeRepoRecordsEachMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	human := actor.Human{UserID: userID}

	var nodeID uuid.UUID
	if err := f.runner.WithActor(ctx, human, func(dbc dbctx.Context) error {
		created, err := f.nodes.Create(dbc, []*types.Node{{OwnerID: userID, Title: "Untitled"}})
		if err != nil {
			return err
		}
		nodeID = created[0].ID
		return nil
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	revs := f.history(t, nodeID)
	if len(revs) != 1 {
		t.Fatalf("revisions after create: want=1 got=%d", len(revs))
	}
	ins := revs[0]
	if ins.Operation != types.OpInsert || ins.HasOldData() || !ins.HasNewData() {
		t.Fatalf("insert revision: op=%s old=%s new=%s", ins.Operation, ins.OldData, ins.NewData)
	}
	if got := changed(t, ins); len(got) != 0 {
		t.Fatalf("insert changed fields: want empty got=%v", got)
	}
	if ins.ActorType != string(actor.KindHuman) || ins.ActorID == nil || *ins.ActorID != userID {
		t.Fatalf("insert actor: type=%s id=%v", ins.ActorType, ins.ActorID)
	}
	if ins.OwnerID != userID {
		t.Fatalf("insert owner: want=%s got=%s", userID, ins.OwnerID)
	}

	if err := f.runner.WithActor(ctx, human, func(dbc dbctx.Context) error {
		_, err := f.nodes.Update(dbc, nodeID, map[string]any{"title": "Plan"})
		return err
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	revs = f.history(t, nodeID)
	if len(revs) != 2 {
		t.Fatalf("revisions after update: want=2 got=%d", len(revs))
	}
	upd := revs[0]
	if upd.Operation != types.OpUpdate {
		t.Fatalf("newest op: want=UPDATE got=%s", upd.Operation)
	}
	if got := changed(t, upd); len(got) != 1 || got[0] != "title" {
		t.Fatalf("update changed fields: want=[title] got=%v", got)
	}
	var oldSnap, newSnap map[string]any
	_ = json.Unmarshal(upd.OldData, &oldSnap)
	_ = json.Unmarshal(upd.NewData, &newSnap)
	if oldSnap["title"] != "Untitled" || newSnap["title"] != "Plan" {
		t.Fatalf("update snapshots: old=%v new=%v", oldSnap["title"], newSnap["title"])
	}
	if _, ok := newSnap["search_text"]; ok {
		t.Fatalf("snapshot should not carry search_text")
	}
	if !upd.CreatedAt.After(revs[1].CreatedAt) {
		t.Fatalf("timestamps not increasing: %v then %v", revs[1].CreatedAt, upd.CreatedAt)
	}

	task := uuid.New()
	if err := f.runner.WithActor(ctx, actor.Agent{TaskID: task}, func(dbc dbctx.Context) error {
		_, err := f.nodes.DeleteByIDs(dbc, []uuid.UUID{nodeID})
		return err
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	revs = f.history(t, nodeID)
	if len(revs) != 3 {
		t.Fatalf("revisions after delete: want=3 got=%d", len(revs))
	}
	del := revs[0]
	if del.Operation != types.OpDelete || del.HasNewData() || !del.HasOldData() {
		t.Fatalf("delete revision: op=%s old=%s new=%s", del.Operation, del.OldData, del.NewData)
	}
	if del.ActorType != string(actor.KindAgent) || del.ActorID == nil || *del.ActorID != task {
		t.Fatalf("delete actor: type=%s id=%v", del.ActorType, del.ActorID)
	}
}

func TestUpdateWithSameValuesRecordsEmptyChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	n := testutil.SeedNode(t, ctx, f.db, userID, nil, "Same")

	if err := f.runner.WithActor(ctx, actor.Human{UserID: userID}, func(dbc dbctx.Context) error {
		_, err := f.nodes.Update(dbc, n.ID, map[string]any{"title": "Same"})
		return err
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	revs := f.history(t, n.ID)
	if len(revs) != 1 {
		t.Fatalf("revisions: want=1 got=%d", len(revs))
	}
	if got := changed(t, revs[0]); len(got) != 0 {
		t.Fatalf("changed fields: want empty got=%v", got)
	}
}

func TestRollbackDiscardsWriteAndRevision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	boom := errors.New("boom")

	var nodeID uuid.UUID
	err := f.runner.WithActor(ctx, actor.Human{UserID: userID}, func(dbc dbctx.Context) error {
		created, err := f.nodes.Create(dbc, []*types.Node{{OwnerID: userID, Title: "Ghost"}})
		if err != nil {
			return err
		}
		nodeID = created[0].ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithActor err: want=boom got=%v", err)
	}
	if _, err := f.nodes.GetByID(dbctx.Context{Ctx: ctx}, nodeID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("node after rollback: want not found got=%v", err)
	}
	if revs := f.history(t, nodeID); len(revs) != 0 {
		t.Fatalf("revisions after rollback: want=0 got=%d", len(revs))
	}
}

func TestUnattributedWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := f.nodes.Create(dbctx.Context{Ctx: ctx}, []*types.Node{{OwnerID: userID, Title: "x"}})
	if !apierr.IsCode(err, apierr.CodeInternal) {
		t.Fatalf("create without actor: want internal got=%v", err)
	}

	var count int64
	f.db.Model(&types.Node{}).Count(&count)
	if count != 0 {
		t.Fatalf("node rows: want=0 got=%d", count)
	}
}

func TestDeleteSubtreeSharesBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	root := testutil.SeedNode(t, ctx, f.db, userID, nil, "root")
	child := testutil.SeedNode(t, ctx, f.db, userID, &root.ID, "child")
	leaf := testutil.SeedNode(t, ctx, f.db, userID, &child.ID, "leaf")

	if err := f.runner.WithActor(ctx, actor.System{}, func(dbc dbctx.Context) error {
		ids, err := f.nodes.DescendantIDs(dbc, root.ID)
		if err != nil {
			return err
		}
		n, err := f.nodes.DeleteByIDs(dbc, append(ids, root.ID))
		if err != nil {
			return err
		}
		if n != 3 {
			t.Errorf("deleted rows: want=3 got=%d", n)
		}
		return nil
	}); err != nil {
		t.Fatalf("delete subtree: %v", err)
	}

	var batch uuid.UUID
	for _, id := range []uuid.UUID{root.ID, child.ID, leaf.ID} {
		revs := f.history(t, id)
		if len(revs) != 1 || revs[0].Operation != types.OpDelete {
			t.Fatalf("revisions for %s: %+v", id, revs)
		}
		if revs[0].ActorType != string(actor.KindSystem) || revs[0].ActorID != nil {
			t.Fatalf("system actor: type=%s id=%v", revs[0].ActorType, revs[0].ActorID)
		}
		if batch == uuid.Nil {
			batch = revs[0].BatchID
		} else if revs[0].BatchID != batch {
			t.Fatalf("batch ids differ: %s vs %s", batch, revs[0].BatchID)
		}
	}
}

func TestConcurrentActorsStayIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 8
	owners := make([]uuid.UUID, workers)
	nodes := make([]*types.Node, workers)
	for i := range owners {
		owners[i] = uuid.New()
		nodes[i] = testutil.SeedNode(t, ctx, f.db, owners[i], nil, "n")
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- f.runner.WithActor(ctx, actor.Human{UserID: owners[i]}, func(dbc dbctx.Context) error {
				_, err := f.nodes.Update(dbc, nodes[i].ID, map[string]any{"title": owners[i].String()})
				return err
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	for i, n := range nodes {
		revs := f.history(t, n.ID)
		if len(revs) != 1 {
			t.Fatalf("node %d revisions: want=1 got=%d", i, len(revs))
		}
		if revs[0].ActorID == nil || *revs[0].ActorID != owners[i] {
			t.Fatalf("node %d actor: want=%s got=%v", i, owners[i], revs[0].ActorID)
		}
	}

	// An unbound write on the same pooled connection afterwards must not
	// inherit any earlier actor.
	if _, err := f.nodes.Update(dbctx.Context{Ctx: ctx, Tx: f.db}, nodes[0].ID, map[string]any{"title": "x"}); !apierr.IsCode(err, apierr.CodeInternal) {
		t.Fatalf("unbound update: want internal got=%v", err)
	}
}

func TestChangedFields(t *testing.T) {
	r := &Recorder{ignored: map[string]bool{"updated_at": true, "created_at": true}}
	cases := []struct {
		name string
		old  map[string]any
		new  map[string]any
		want []string
	}{
		{"identical", map[string]any{"a": 1.0}, map[string]any{"a": 1.0}, []string{}},
		{"value", map[string]any{"a": 1.0, "b": "x"}, map[string]any{"a": 2.0, "b": "x"}, []string{"a"}},
		{"added", map[string]any{}, map[string]any{"a": nil}, []string{"a"}},
		{"removed", map[string]any{"z": true, "a": true}, map[string]any{}, []string{"a", "z"}},
		{"nested", map[string]any{"p": map[string]any{"k": "v"}}, map[string]any{"p": map[string]any{"k": "w"}}, []string{"p"}},
		{"timestamps ignored", map[string]any{"updated_at": "1"}, map[string]any{"updated_at": "2"}, []string{}},
	}
	for _, tc := range cases {
		got := r.ChangedFields(tc.old, tc.new)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: want=%v got=%v", tc.name, tc.want, got)
			}
		}
	}
}

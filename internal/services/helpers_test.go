package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/workspace-core/internal/data/actorctx"
	"github.com/yungbote/workspace-core/internal/data/audit"
	teamrepo "github.com/yungbote/workspace-core/internal/data/repos/team"
	"github.com/yungbote/workspace-core/internal/data/repos/testutil"
	repos "github.com/yungbote/workspace-core/internal/data/repos/workspace"
	types "github.com/yungbote/workspace-core/internal/domain/workspace"
	"github.com/yungbote/workspace-core/internal/pkg/dbctx"
	"github.com/yungbote/workspace-core/internal/realtime"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev realtime.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) on(channel string) []realtime.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []realtime.ChangeEvent{}
	for _, ev := range p.events {
		if ev.Channel == channel {
			out = append(out, ev)
		}
	}
	return out
}

type env struct {
	db        *gorm.DB
	nodes     NodeService
	history   HistoryService
	perms     PermissionService
	revisions repos.RevisionRepo
	pub       *recordingPublisher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	revisions := repos.NewRevisionRepo(db, log)
	audited := audit.NewNodeRepo(repos.NewNodeRepo(db, log), audit.NewRecorder(revisions, log, nil))
	members := teamrepo.NewMemberRepo(db, log)
	pub := &recordingPublisher{}

	nodes := NewNodeService(log, actorctx.NewRunner(db), audited, members, pub, nil)
	return &env{
		db:        db,
		nodes:     nodes,
		history:   NewHistoryService(log, revisions, nodes),
		perms:     NewPermissionService(log, members, nil),
		revisions: revisions,
		pub:       pub,
	}
}

func (e *env) mustCreate(t *testing.T, p Principal, parent *uuid.UUID, title string) *types.Node {
	t.Helper()
	n, err := e.nodes.Create(context.Background(), p, CreateNodeInput{ParentID: parent, Title: title})
	if err != nil {
		t.Fatalf("create %q: %v", title, err)
	}
	return n
}

func (e *env) revisionsOf(t *testing.T, id uuid.UUID) []*types.Revision {
	t.Helper()
	revs, err := e.revisions.ListBySubject(dbctx.Context{Ctx: context.Background()}, id, 1000, 0, true)
	if err != nil {
		t.Fatalf("list revisions: %v", err)
	}
	return revs
}

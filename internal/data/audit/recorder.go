// Package audit appends a Revision for every write to an audited entity,
// inside the same transaction as the write.
package audit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	repos "github.com/yungbote/workspace-core/internal/data/repos/workspace"
	types "github.com/yungbote/workspace-core/internal/domain/workspace"
	"github.com/yungbote/workspace-core/internal/observability"
	"github.com/yungbote/workspace-core/internal/pkg/dbctx"
	"github.com/yungbote/workspace-core/internal/platform/apierr"
	"github.com/yungbote/workspace-core/internal/platform/logger"
)

// Entry describes one row-level change. Old is nil for inserts, New is nil for
// deletes.
type Entry struct {
	SubjectID    uuid.UUID
	SubjectTable string
	OwnerID      uuid.UUID
	Operation    types.Operation
	Old          map[string]any
	New          map[string]any
}

type Recorder struct {
	revisions repos.RevisionRepo
	log       *logger.Logger
	metrics   *observability.Metrics
	// ignored fields never count as changed.
	ignored map[string]bool
}

func NewRecorder(revisions repos.RevisionRepo, baseLog *logger.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{
		revisions: revisions,
		log:       baseLog.With("component", "AuditRecorder"),
		metrics:   metrics,
		ignored:   map[string]bool{"created_at": true, "updated_at": true},
	}
}

// Record appends one revision per entry using the actor and batch bound to dbc.
// It refuses to run outside an actor-bound transaction so that the enclosing
// write fails instead of committing unattributed.
func (r *Recorder) Record(dbc dbctx.Context, entries ...Entry) ([]*types.Revision, error) {
	if !dbc.Attributed() {
		return nil, apierr.New(apierr.CodeInternal, "audit.record", "audited write outside an actor-bound transaction")
	}
	if len(entries) == 0 {
		return []*types.Revision{}, nil
	}
	revs := make([]*types.Revision, 0, len(entries))
	for _, e := range entries {
		rev, err := r.build(dbc, e)
		if err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	created, err := r.revisions.Create(dbc, revs)
	if err != nil {
		return nil, fmt.Errorf("append revisions: %w", err)
	}
	for _, rev := range created {
		r.metrics.IncRevision(string(rev.Operation), rev.ActorType)
	}
	r.log.Debug("revisions appended", "count", len(created), "actor", dbc.Actor.String(), "batch", dbc.BatchID)
	return created, nil
}

func (r *Recorder) build(dbc dbctx.Context, e Entry) (*types.Revision, error) {
	changed := []string{}
	switch e.Operation {
	case types.OpInsert:
		if e.New == nil {
			return nil, fmt.Errorf("insert revision for %s needs a new snapshot", e.SubjectID)
		}
	case types.OpUpdate:
		if e.Old == nil || e.New == nil {
			return nil, fmt.Errorf("update revision for %s needs both snapshots", e.SubjectID)
		}
		changed = r.ChangedFields(e.Old, e.New)
	case types.OpDelete:
		if e.Old == nil {
			return nil, fmt.Errorf("delete revision for %s needs an old snapshot", e.SubjectID)
		}
	default:
		return nil, fmt.Errorf("unknown operation %q", e.Operation)
	}

	changedRaw, err := json.Marshal(changed)
	if err != nil {
		return nil, err
	}
	oldRaw, err := marshalSnapshot(e.Old)
	if err != nil {
		return nil, err
	}
	newRaw, err := marshalSnapshot(e.New)
	if err != nil {
		return nil, err
	}
	return &types.Revision{
		ID:            uuid.New(),
		SubjectID:     e.SubjectID,
		SubjectTable:  e.SubjectTable,
		OwnerID:       e.OwnerID,
		Operation:     e.Operation,
		ChangedFields: datatypes.JSON(changedRaw),
		ActorType:     string(dbc.Actor.Kind()),
		ActorID:       dbc.Actor.RefID(),
		BatchID:       dbc.BatchID,
		OldData:       oldRaw,
		NewData:       newRaw,
		CreatedAt:     nextTimestamp(),
	}, nil
}

// ChangedFields lists, sorted, every field whose value differs between the two
// snapshots. A field present on only one side counts as changed; a field
// absent from both does not appear at all.
func (r *Recorder) ChangedFields(oldData, newData map[string]any) []string {
	keys := make(map[string]struct{}, len(oldData)+len(newData))
	for k := range oldData {
		keys[k] = struct{}{}
	}
	for k := range newData {
		keys[k] = struct{}{}
	}
	out := []string{}
	for k := range keys {
		if r.ignored[k] {
			continue
		}
		ov, inOld := oldData[k]
		nv, inNew := newData[k]
		if inOld != inNew || !reflect.DeepEqual(ov, nv) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func marshalSnapshot(m map[string]any) (datatypes.JSON, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return datatypes.JSON(raw), nil
}

var (
	clockMu   sync.Mutex
	lastStamp time.Time
)

// nextTimestamp is strictly increasing within the process at microsecond
// precision, which keeps newest-first ordering stable for revisions written
// in the same instant.
func nextTimestamp() time.Time {
	clockMu.Lock()
	defer clockMu.Unlock()
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(lastStamp) {
		now = lastStamp.Add(time.Microsecond)
	}
	lastStamp = now
	return now
}

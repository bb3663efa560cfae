// Package actorctx provides the actor-bound unit of work every audited write
// runs in.
package actorctx

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/workspace-core/internal/domain/actor"
	"github.com/yungbote/workspace-core/internal/pkg/dbctx"
	"github.com/yungbote/workspace-core/internal/platform/apierr"
)

// Runner opens one transaction per unit of work and binds the acting principal
// to it.
type Runner interface {
	WithActor(ctx context.Context, a actor.Actor, fn func(dbc dbctx.Context) error) error
}

type gormRunner struct {
	db *gorm.DB
}

func NewRunner(db *gorm.DB) Runner {
	return &gormRunner{db: db}
}

// WithActor commits when fn returns nil and rolls back otherwise. The actor is
// carried only by the dbctx.Context handed to fn. On postgres it is also set
// as transaction-local settings (set_config(..., true)) for operators looking
// at pg_stat_activity; the application never reads those back.
func (r *gormRunner) WithActor(ctx context.Context, a actor.Actor, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	if a == nil {
		return apierr.InvalidInput("actorctx.with_actor", "actor is required")
	}
	if r == nil || r.db == nil {
		return apierr.New(apierr.CodeInternal, "actorctx.with_actor", "runner has nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	batch := uuid.New()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tagTransaction(tx, a); err != nil {
				return err
			}
		}
		return fn(dbctx.Context{Ctx: ctx, Tx: tx, Actor: a, BatchID: batch})
	})
}

func tagTransaction(tx *gorm.DB, a actor.Actor) error {
	ref := ""
	if id := a.RefID(); id != nil {
		ref = id.String()
	}
	if err := tx.Exec("SELECT set_config('workspace.actor_type', ?, true)", string(a.Kind())).Error; err != nil {
		return fmt.Errorf("tag actor type: %w", err)
	}
	if err := tx.Exec("SELECT set_config('workspace.actor_id', ?, true)", ref).Error; err != nil {
		return fmt.Errorf("tag actor id: %w", err)
	}
	return nil
}

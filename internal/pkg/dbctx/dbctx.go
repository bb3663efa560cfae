package dbctx

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/workspace-core/internal/domain/actor"
)

// Context bundles a request context with an optional GORM transaction.
// Actor and BatchID are only set inside an actor-bound unit of work and
// live exactly as long as that value.
type Context struct {
	Ctx     context.Context
	Tx      *gorm.DB
	Actor   actor.Actor
	BatchID uuid.UUID
}

// DB returns the transaction when present, otherwise fallback.
func (c Context) DB(fallback *gorm.DB) *gorm.DB {
	if c.Tx != nil {
		return c.Tx.WithContext(c.context())
	}
	return fallback.WithContext(c.context())
}

func (c Context) context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// Attributed reports whether the context carries an open transaction and an actor.
func (c Context) Attributed() bool {
	return c.Tx != nil && c.Actor != nil
}

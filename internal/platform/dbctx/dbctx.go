package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func Background() Context {
	return Context{Ctx: context.Background()}
}

func With(ctx context.Context) Context {
	return Context{Ctx: ctx}
}

// Conn returns the transaction when one is bound, else fallback, scoped to Ctx.
func (c Context) Conn(fallback *gorm.DB) *gorm.DB {
	transaction := c.Tx
	if transaction == nil {
		transaction = fallback
	}
	if c.Ctx == nil {
		return transaction.WithContext(context.Background())
	}
	return transaction.WithContext(c.Ctx)
}

// InTx returns a copy of c bound to tx.
func (c Context) InTx(tx *gorm.DB) Context {
	return Context{Ctx: c.Ctx, Tx: tx}
}

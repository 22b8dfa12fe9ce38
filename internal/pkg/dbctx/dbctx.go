package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction so
// repos can run either standalone or inside a caller-owned transaction.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

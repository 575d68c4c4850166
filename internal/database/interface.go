package database

import (
	"context"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

// DBConnection is the part of Connection that services build on. It lets
// the live query service and the remote feed run against a managed
// connection that reconnects on transport failures.
type DBConnection interface {
	WithConnection(ctx context.Context, fn func(*surrealdb.DB) error) error
	QueryTimeout() time.Duration
	ExecuteTimeout() time.Duration
}

var _ DBConnection = (*Connection)(nil)

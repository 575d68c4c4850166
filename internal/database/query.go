package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// identPattern matches table and field names that are safe to interpolate.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be used as a bare SurrealQL
// table or field identifier.
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

// Query executes a raw SurrealQL query with parameters and returns multiple results.
// It's a generic function that can unmarshal results into any type T.
//
// Example:
//
//	query := "SELECT * FROM messages WHERE recipient_id = $to"
//	rows, err := Query[map[string]any](ctx, db, query, map[string]any{"to": "ADMIN"})
func Query[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) ([]T, error) {
	queryResults, err := surrealdb.Query[[]T](ctx, db, query, params)
	if err != nil {
		return nil, NewDBError(err, "query execution failed").WithQuery(query)
	}
	if queryResults == nil || len(*queryResults) == 0 {
		return nil, nil
	}
	result := (*queryResults)[0]
	if result.Status != "" && result.Status != "OK" {
		return nil, NewDBError(ErrQueryFailed, fmt.Sprintf("statement status %s", result.Status)).WithQuery(query)
	}
	return result.Result, nil
}

// QueryOne executes a query and returns a single result.
// If no results are found, it returns nil, nil.
func QueryOne[T any](ctx context.Context, db *surrealdb.DB, query string, params map[string]any) (*T, error) {
	// CREATE/UPSERT/UPDATE statements don't support LIMIT.
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") && !hasLimitClause(query) {
		query += " LIMIT 1"
	}

	results, err := Query[T](ctx, db, query, params)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// Execute runs a query that doesn't return rows (UPSERT, UPDATE, DELETE, etc.).
func Execute(ctx context.Context, db *surrealdb.DB, query string, params map[string]any) error {
	if _, err := surrealdb.Query[any](ctx, db, query, params); err != nil {
		return NewDBError(err, "query execution failed").WithQuery(query)
	}
	return nil
}

// hasLimitClause checks if the query already has a LIMIT clause
func hasLimitClause(query string) bool {
	query = " " + strings.ToUpper(query) + " "
	return strings.Contains(query, " LIMIT ")
}

package feed

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/nfrund/bizdash/internal/database"
	"github.com/surrealdb/surrealdb.go"
)

// SurrealFeed stores each collection as a SurrealDB table keyed by message
// id and follows appends with a live query.
type SurrealFeed struct {
	conn   database.DBConnection
	live   database.LiveQueryService
	logger *slog.Logger
}

var _ Feed = (*SurrealFeed)(nil)

// NewSurrealFeed creates a feed over a managed connection.
func NewSurrealFeed(conn database.DBConnection, live database.LiveQueryService) *SurrealFeed {
	return &SurrealFeed{
		conn:   conn,
		live:   live,
		logger: slog.Default().With("service", "surreal_feed"),
	}
}

const upsertQuery = "UPSERT type::thing($tb, $id) MERGE $data"

// Write implements Feed.
func (f *SurrealFeed) Write(ctx context.Context, collection, id string, payload map[string]any) error {
	if !database.ValidIdentifier(collection) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}
	query, params, err := upsertStatement(collection, id, payload)
	if err != nil {
		return err
	}

	ctx, cancel := database.ExecuteContext(ctx, f.conn)
	defer cancel()

	return f.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		if err := database.Execute(ctx, db, query, params); err != nil {
			return fmt.Errorf("write %s/%s: %w", collection, id, err)
		}
		return nil
	})
}

// upsertStatement merges plain payloads as a whole. A payload carrying a
// Union is written field by field so the union runs server side against
// the stored array.
func upsertStatement(collection, id string, payload map[string]any) (string, map[string]any, error) {
	params := map[string]any{"tb": collection, "id": id}

	hasUnion := false
	for _, v := range payload {
		if _, ok := v.(Union); ok {
			hasUnion = true
			break
		}
	}
	if !hasUnion {
		params["data"] = payload
		return upsertQuery, params, nil
	}

	fields := slices.Sorted(maps.Keys(payload))
	sets := make([]string, 0, len(fields))
	for _, field := range fields {
		if !database.ValidIdentifier(field) {
			return "", nil, fmt.Errorf("%w: field %q", ErrInvalidCollection, field)
		}
		param := "f_" + field
		if u, ok := payload[field].(Union); ok {
			params[param] = []string(u)
			sets = append(sets, fmt.Sprintf("%s = array::union(%s ?? [], $%s)", field, field, param))
			continue
		}
		params[param] = payload[field]
		sets = append(sets, fmt.Sprintf("%s = $%s", field, param))
	}
	return "UPSERT type::thing($tb, $id) SET " + strings.Join(sets, ", "), params, nil
}

// QueryRecent implements Feed.
func (f *SurrealFeed) QueryRecent(ctx context.Context, collection, orderField string, limit int) ([]Record, error) {
	if !database.ValidIdentifier(collection) || !database.ValidIdentifier(orderField) {
		return nil, fmt.Errorf("%w: %q ordered by %q", ErrInvalidCollection, collection, orderField)
	}
	if limit <= 0 {
		return nil, nil
	}

	ctx, cancel := database.QueryContext(ctx, f.conn)
	defer cancel()

	query := fmt.Sprintf("SELECT * FROM type::table($tb) ORDER BY %s DESC LIMIT $limit", orderField)
	params := map[string]any{"tb": collection, "limit": limit}

	var rows []map[string]any
	err := f.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var qerr error
		rows, qerr = database.Query[map[string]any](ctx, db, query, params)
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, Record(row))
	}
	return records, nil
}

// SubscribeAppended implements Feed. The live query is attached before the
// snapshot is read so no record created in between is missed; the
// listener's seen-set absorbs the overlap.
func (f *SurrealFeed) SubscribeAppended(ctx context.Context, collection string, limit int, order Order, cb Handler) (Disposer, error) {
	if !database.ValidIdentifier(collection) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}

	l := newListener(collection, cb, f.logger)
	l.hold()
	defer l.release()

	sub, err := f.live.Subscribe(ctx, collection, nil, func(ctx context.Context, action database.LiveQueryAction, data any) {
		if action != database.ActionCreate {
			return
		}
		rec, err := toRecord(data)
		if err != nil {
			f.logger.Warn("Ignoring undecodable live record", "collection", collection, "error", err)
			return
		}
		l.deliver(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	dispose := onceDisposer(func() {
		l.stop()
		if err := f.live.Unsubscribe(sub.ID); err != nil {
			f.logger.Warn("Failed to unsubscribe live query", "collection", collection, "error", err)
		}
	})

	snapshot, err := f.QueryRecent(ctx, collection, OrderField, limit)
	if err != nil {
		dispose()
		return nil, err
	}
	l.deliverSnapshotLocked(ctx, snapshot, order)

	return dispose, nil
}

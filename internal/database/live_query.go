package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// LiveQueryAction represents the type of change in a live query update
type LiveQueryAction string

const (
	ActionCreate LiveQueryAction = "CREATE"
	ActionUpdate LiveQueryAction = "UPDATE"
	ActionDelete LiveQueryAction = "DELETE"
)

// LiveQueryHandler is called when live query data changes. Calls for one
// subscription are made sequentially, in the order the server sent them.
type LiveQueryHandler func(ctx context.Context, action LiveQueryAction, data any)

// LiveQueryFilter defines optional filtering for live queries
type LiveQueryFilter struct {
	Where  string         // SurrealQL WHERE clause
	Params map[string]any // Query parameters
	Fields []string       // Specific fields to watch (optional)
}

// Subscription represents an active live query subscription
type Subscription struct {
	ID    string
	Table string
}

// LiveQueryService provides real-time data subscriptions via SurrealDB Live Queries
type LiveQueryService interface {
	// Subscribe to a table with optional WHERE clause
	Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error)

	// Subscribe with custom SurrealQL query
	SubscribeQuery(ctx context.Context, query string, params map[string]any, handler LiveQueryHandler) (*Subscription, error)

	// Unsubscribe from updates. Unknown ids are ignored.
	Unsubscribe(subID string) error
}

// SurrealLiveQueryService implements LiveQueryService using SurrealDB
type SurrealLiveQueryService struct {
	db     DBConnection
	logger *slog.Logger

	subscriptions sync.Map // map[string]*subscriptionState
}

type subscriptionState struct {
	id          string
	table       string
	handler     LiveQueryHandler
	cancel      context.CancelFunc
	liveQueryID string
}

// NewSurrealLiveQueryService creates a new live query service
func NewSurrealLiveQueryService(db DBConnection) *SurrealLiveQueryService {
	return &SurrealLiveQueryService{
		db:     db,
		logger: slog.Default().With("service", "live_query"),
	}
}

// Subscribe creates a live query subscription for a table
func (s *SurrealLiveQueryService) Subscribe(ctx context.Context, table string, filter *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if !ValidIdentifier(table) {
		return nil, NewDBError(ErrInvalidIdentifier, fmt.Sprintf("table %q", table))
	}

	fieldList := "*"
	if filter != nil && len(filter.Fields) > 0 {
		for _, f := range filter.Fields {
			if !ValidIdentifier(f) {
				return nil, NewDBError(ErrInvalidIdentifier, fmt.Sprintf("field %q", f))
			}
		}
		fieldList = strings.Join(filter.Fields, ", ")
	}

	query := fmt.Sprintf("LIVE SELECT %s FROM %s", fieldList, table)
	if filter != nil && filter.Where != "" {
		query = fmt.Sprintf("%s WHERE %s", query, filter.Where)
	}

	params := map[string]any{}
	if filter != nil && filter.Params != nil {
		params = filter.Params
	}

	return s.subscribeQuery(ctx, table, query, params, handler)
}

// SubscribeQuery creates a live query subscription with a custom query
func (s *SurrealLiveQueryService) SubscribeQuery(ctx context.Context, query string, params map[string]any, handler LiveQueryHandler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "LIVE SELECT") {
		return nil, fmt.Errorf("query must start with 'LIVE SELECT', got: %s", query)
	}

	if params == nil {
		params = map[string]any{}
	}

	return s.subscribeQuery(ctx, extractTableFromQuery(query), query, params, handler)
}

func (s *SurrealLiveQueryService) subscribeQuery(ctx context.Context, table, query string, params map[string]any, handler LiveQueryHandler) (*Subscription, error) {
	subID := uuid.NewString()
	subCtx, cancel := context.WithCancel(context.Background())
	state := &subscriptionState{
		id:      subID,
		table:   table,
		handler: handler,
		cancel:  cancel,
	}
	s.subscriptions.Store(subID, state)

	err := s.db.WithConnection(ctx, func(dbConn *surrealdb.DB) error {
		results, err := surrealdb.Query[any](ctx, dbConn, query, params)
		if err != nil {
			return fmt.Errorf("failed to execute live query: %w", err)
		}
		if results == nil || len(*results) == 0 {
			return errors.New("live query returned no results")
		}

		result := (*results)[0]
		if result.Status != "OK" {
			return fmt.Errorf("live query failed with status: %s", result.Status)
		}

		liveID, err := liveQueryID(result.Result)
		if err != nil {
			return err
		}
		state.liveQueryID = liveID

		notifications, err := dbConn.LiveNotifications(liveID)
		if err != nil {
			return fmt.Errorf("failed to get notification channel: %w", err)
		}

		go s.listen(subCtx, state, notifications)
		go s.cleanupOnCancel(subCtx, state, dbConn)
		return nil
	})
	if err != nil {
		cancel()
		s.subscriptions.Delete(subID)
		return nil, fmt.Errorf("failed to start live query: %w", err)
	}

	s.logger.DebugContext(ctx, "Live query established", "sub_id", subID, "table", table, "live_query_id", state.liveQueryID)

	return &Subscription{ID: subID, Table: table}, nil
}

// Unsubscribe removes a live query subscription
func (s *SurrealLiveQueryService) Unsubscribe(subID string) error {
	if v, ok := s.subscriptions.LoadAndDelete(subID); ok {
		v.(*subscriptionState).cancel()
		s.logger.Debug("Live query subscription removed", "sub_id", subID)
	}
	return nil
}

func (s *SurrealLiveQueryService) cleanupOnCancel(ctx context.Context, state *subscriptionState, dbConn *surrealdb.DB) {
	<-ctx.Done()

	if err := dbConn.CloseLiveNotifications(state.liveQueryID); err != nil {
		s.logger.Warn("Failed to close live notifications", "error", err, "live_query_id", state.liveQueryID)
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := surrealdb.Query[any](cleanupCtx, dbConn, "KILL $liveQueryID", map[string]any{
		"liveQueryID": state.liveQueryID,
	})
	if err != nil {
		s.logger.Warn("Failed to kill live query", "error", err, "live_query_id", state.liveQueryID)
	}
}

// listen delivers notifications to the handler one at a time.
func (s *SurrealLiveQueryService) listen(ctx context.Context, state *subscriptionState, notifications <-chan connection.Notification) {
	defer func() {
		s.subscriptions.Delete(state.id)
		state.cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case n, ok := <-notifications:
			if !ok {
				s.logger.Debug("Live query notification channel closed", "sub_id", state.id)
				return
			}

			var action LiveQueryAction
			switch n.Action {
			case connection.CreateAction:
				action = ActionCreate
			case connection.UpdateAction:
				action = ActionUpdate
			case connection.DeleteAction:
				action = ActionDelete
			default:
				s.logger.Warn("Unknown notification action", "sub_id", state.id, "action", n.Action)
				continue
			}

			s.dispatch(ctx, state, action, n.Result)
		}
	}
}

func (s *SurrealLiveQueryService) dispatch(ctx context.Context, state *subscriptionState, action LiveQueryAction, data any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in live query handler", "sub_id", state.id, "panic", r)
		}
	}()
	state.handler(ctx, action, data)
}

// liveQueryID extracts the live query UUID from a LIVE SELECT result.
func liveQueryID(result any) (string, error) {
	var id string
	switch v := result.(type) {
	case nil:
		return "", errors.New("live query returned nil result")
	case string:
		id = v
	case models.UUID:
		id = v.String()
	case map[string]any:
		switch inner := v["id"].(type) {
		case string:
			id = inner
		case models.UUID:
			id = inner.String()
		default:
			return "", fmt.Errorf("live query result map does not contain 'id' field: %+v", v)
		}
	default:
		return "", fmt.Errorf("unexpected live query result type: %T", result)
	}
	if id == "" {
		return "", errors.New("live query returned empty UUID")
	}
	return id, nil
}

// extractTableFromQuery returns the word following FROM, or "unknown".
func extractTableFromQuery(query string) string {
	parts := strings.Fields(query)
	for i, part := range parts {
		if strings.EqualFold(part, "FROM") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return "unknown"
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jobboard/api/internal/board"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const itemColumns = `id, status, priority, name, description, client_name, contact_name, created_by, rejected, due_date, created_at, updated_at`

// boardOrder is the visual top-to-bottom order within one status.
const boardOrder = `ORDER BY priority DESC, id ASC`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (board.Item, error) {
	var (
		item   board.Item
		status string
		due    sql.NullTime
	)
	err := row.Scan(
		&item.ID, &status, &item.Priority, &item.Name, &item.Description,
		&item.ClientName, &item.ContactName, &item.CreatedBy, &item.Rejected,
		&due, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return board.Item{}, err
	}
	item.Status = board.Status(status)
	if due.Valid {
		d := due.Time.UTC()
		item.DueDate = &d
	}
	return item, nil
}

func collectItems(rows *sql.Rows) ([]board.Item, error) {
	defer rows.Close()
	items := make([]board.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func getItem(ctx context.Context, q queryer, id string, forUpdate bool) (board.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM work_items WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	item, err := scanItem(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return board.Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return board.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (board.Item, error) {
	return getItem(ctx, s.db, id, false)
}

// ListByStatus returns one column in board order. A non-positive limit
// means no limit.
func (s *PostgresStore) ListByStatus(ctx context.Context, status board.Status, terms []string, limit int) ([]board.Item, error) {
	where, args := buildStatusFilter(status, terms)
	query := `SELECT ` + itemColumns + ` FROM work_items` + where + ` ` + boardOrder
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items by status: %w", err)
	}
	return collectItems(rows)
}

// ListActive returns every item whose status is not in excluded, ordered by
// priority across the whole board.
func (s *PostgresStore) ListActive(ctx context.Context, excluded []board.Status) ([]board.Item, error) {
	statuses := make([]string, len(excluded))
	for i, status := range excluded {
		statuses[i] = string(status)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE NOT (status = ANY($1)) `+boardOrder,
		statuses,
	)
	if err != nil {
		return nil, fmt.Errorf("list active items: %w", err)
	}
	return collectItems(rows)
}

// CountByStatus returns the number of items in every non-empty status.
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[board.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count items by status: %w", err)
	}
	defer rows.Close()

	counts := map[board.Status]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[board.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count items by status: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) AdvancedSearch(ctx context.Context, filter ItemFilter) ([]board.Item, error) {
	where, args := buildItemFilter(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM work_items`+where+` `+boardOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("advanced search: %w", err)
	}
	return collectItems(rows)
}

// ListEvents returns an item's audit trail oldest first.
func (s *PostgresStore) ListEvents(ctx context.Context, itemID string) ([]board.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_item_id, event_type, field, old_value, new_value, actor, description, created_at
		FROM transition_events
		WHERE work_item_id = $1
		ORDER BY id ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]board.Event, 0)
	for rows.Next() {
		var (
			ev        board.Event
			eventType string
		)
		if err := rows.Scan(&ev.ID, &ev.ItemID, &eventType, &ev.Field, &ev.OldValue, &ev.NewValue, &ev.Actor, &ev.Description, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = board.EventType(eventType)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func dueDateArg(due *time.Time) any {
	if due == nil || due.IsZero() {
		return nil
	}
	return startOfDay(*due)
}

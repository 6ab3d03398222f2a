package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"jobboard/api/internal/board"
)

// BoardTx is the write surface available while column locks are held.
// Every method runs inside the same transaction.
type BoardTx interface {
	GetItem(ctx context.Context, id string) (board.Item, error)
	// GetItemForUpdate also row-locks the item until commit.
	GetItemForUpdate(ctx context.Context, id string) (board.Item, error)
	// MaxPriority returns 0 for an empty column. excludeID may be empty.
	MaxPriority(ctx context.Context, status board.Status, excludeID string) (int64, error)
	// NextBelow and NextAbove return the item adjacent to anchor in board
	// order, skipping excludeID, or nil at the column end.
	NextBelow(ctx context.Context, anchor board.Item, excludeID string) (*board.Item, error)
	NextAbove(ctx context.Context, anchor board.Item, excludeID string) (*board.Item, error)
	InsertItem(ctx context.Context, item board.Item) (board.Item, error)
	SaveItem(ctx context.Context, item board.Item) (board.Item, error)
	// Rebalance renumbers the whole column and returns how many items moved.
	Rebalance(ctx context.Context, status board.Status, assigner board.Assigner) (int, error)
	InsertEvents(ctx context.Context, events []board.Event) error
}

// WithinBoardLock runs fn in one READ COMMITTED transaction holding an
// advisory lock for every listed status. Locks are taken in sorted order so
// two cross-column moves cannot deadlock each other. Any error from fn rolls
// the whole transaction back.
func (s *PostgresStore) WithinBoardLock(ctx context.Context, statuses []board.Status, fn func(BoardTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin board tx: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`SET LOCAL lock_timeout = '%dms'`, s.lockTimeout.Milliseconds())); err != nil {
		return classify(fmt.Errorf("set lock timeout: %w", err))
	}

	for _, key := range lockKeys(statuses) {
		if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return classify(fmt.Errorf("lock %s: %w", key, err))
		}
	}

	if err = fn(&pgBoardTx{tx: tx}); err != nil {
		return classify(err)
	}

	if err = tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit board tx: %w", err))
	}
	return nil
}

// lockKeys dedupes and sorts the advisory lock keys for statuses.
func lockKeys(statuses []board.Status) []string {
	seen := make(map[board.Status]bool, len(statuses))
	keys := make([]string, 0, len(statuses))
	for _, status := range statuses {
		if status == "" || seen[status] {
			continue
		}
		seen[status] = true
		keys = append(keys, "board:"+string(status))
	}
	sort.Strings(keys)
	return keys
}

type pgBoardTx struct {
	tx *sql.Tx
}

func (t *pgBoardTx) GetItem(ctx context.Context, id string) (board.Item, error) {
	return getItem(ctx, t.tx, id, false)
}

func (t *pgBoardTx) GetItemForUpdate(ctx context.Context, id string) (board.Item, error) {
	return getItem(ctx, t.tx, id, true)
}

func (t *pgBoardTx) MaxPriority(ctx context.Context, status board.Status, excludeID string) (int64, error) {
	var highest int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(priority), 0) FROM work_items WHERE status = $1 AND id <> $2`,
		string(status), excludeID,
	).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("max priority: %w", err)
	}
	return highest, nil
}

func (t *pgBoardTx) NextBelow(ctx context.Context, anchor board.Item, excludeID string) (*board.Item, error) {
	return t.adjacent(ctx, `
		SELECT `+itemColumns+` FROM work_items
		WHERE status = $1 AND id <> $2 AND id <> $3
		  AND (priority < $4 OR (priority = $4 AND id > $3))
		ORDER BY priority DESC, id ASC
		LIMIT 1
	`, anchor, excludeID)
}

func (t *pgBoardTx) NextAbove(ctx context.Context, anchor board.Item, excludeID string) (*board.Item, error) {
	return t.adjacent(ctx, `
		SELECT `+itemColumns+` FROM work_items
		WHERE status = $1 AND id <> $2 AND id <> $3
		  AND (priority > $4 OR (priority = $4 AND id < $3))
		ORDER BY priority ASC, id DESC
		LIMIT 1
	`, anchor, excludeID)
}

func (t *pgBoardTx) adjacent(ctx context.Context, query string, anchor board.Item, excludeID string) (*board.Item, error) {
	rows, err := t.tx.QueryContext(ctx, query, string(anchor.Status), excludeID, anchor.ID, anchor.Priority)
	if err != nil {
		return nil, fmt.Errorf("find neighbour: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (t *pgBoardTx) InsertItem(ctx context.Context, item board.Item) (board.Item, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO work_items (id, status, priority, name, description, client_name, contact_name, created_by, rejected, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`,
		item.ID, string(item.Status), item.Priority, item.Name, item.Description,
		item.ClientName, item.ContactName, item.CreatedBy, item.Rejected, dueDateArg(item.DueDate),
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return board.Item{}, fmt.Errorf("insert item: %w", err)
	}
	return item, nil
}

// SaveItem stamps updated_at at statement time; versions of one row
// increase in commit order.
func (t *pgBoardTx) SaveItem(ctx context.Context, item board.Item) (board.Item, error) {
	err := t.tx.QueryRowContext(ctx, `
		UPDATE work_items
		SET status = $2, priority = $3, name = $4, description = $5, client_name = $6,
		    contact_name = $7, rejected = $8, due_date = $9, updated_at = clock_timestamp()
		WHERE id = $1
		RETURNING updated_at
	`,
		item.ID, string(item.Status), item.Priority, item.Name, item.Description,
		item.ClientName, item.ContactName, item.Rejected, dueDateArg(item.DueDate),
	).Scan(&item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Item{}, fmt.Errorf("item %s: %w", item.ID, ErrNotFound)
	}
	if err != nil {
		return board.Item{}, fmt.Errorf("save item: %w", err)
	}
	return item, nil
}

func (t *pgBoardTx) Rebalance(ctx context.Context, status board.Status, assigner board.Assigner) (int, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id FROM work_items WHERE status = $1 `+boardOrder+` FOR UPDATE`,
		string(status),
	)
	if err != nil {
		return 0, fmt.Errorf("load column for rebalance: %w", err)
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan rebalance id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate rebalance ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placements := assigner.Renumber(ids)
	itemIDs := make([]string, len(placements))
	priorities := make([]int64, len(placements))
	for i, p := range placements {
		itemIDs[i] = p.ItemID
		priorities[i] = p.Priority
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE work_items AS w
		SET priority = v.priority
		FROM unnest($1::text[], $2::bigint[]) AS v(id, priority)
		WHERE w.id = v.id AND w.priority <> v.priority
	`, itemIDs, priorities)
	if err != nil {
		return 0, fmt.Errorf("apply rebalance: %w", err)
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rebalance rows affected: %w", err)
	}
	return int(moved), nil
}

func (t *pgBoardTx) InsertEvents(ctx context.Context, events []board.Event) error {
	for _, ev := range events {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO transition_events (work_item_id, event_type, field, old_value, new_value, actor, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, ev.ItemID, string(ev.Type), ev.Field, ev.OldValue, ev.NewValue, ev.Actor, ev.Description, ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert %s event: %w", ev.Type, err)
		}
	}
	return nil
}

package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"jobboard/api/internal/board"
)

// PgSearch implements Searcher with ILIKE matching over work_items. It is
// the fallback whenever Meilisearch is missing or unhealthy.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

func (p *PgSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(q.Text)
	if len(terms) == 0 {
		return nil, 0, nil
	}

	where, args := pgSearchWhere(terms, q)

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM work_items`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgsearch count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, description, client_name, status
		FROM work_items%s
		ORDER BY updated_at DESC, id
		LIMIT %d OFFSET %d`, where, q.limit(), q.offset()), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgsearch query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r           Result
			description string
			status      string
		)
		if err := rows.Scan(&r.ID, &r.Name, &description, &r.ClientName, &status); err != nil {
			return nil, 0, fmt.Errorf("pgsearch scan: %w", err)
		}
		r.Status = board.Status(status)
		r.Column = board.ColumnFor(r.Status)
		r.Snippet = snippet(description, 120)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// pgSearchWhere requires every term to match at least one text column or
// an invoice reference.
func pgSearchWhere(terms []string, q Query) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, term := range terms {
		p := next("%" + escapeLike(term) + "%")
		clauses = append(clauses, fmt.Sprintf(
			"(name ILIKE %[1]s OR description ILIKE %[1]s OR client_name ILIKE %[1]s OR contact_name ILIKE %[1]s OR created_by ILIKE %[1]s"+
				" OR EXISTS (SELECT 1 FROM work_item_invoices inv WHERE inv.work_item_id = work_items.id AND inv.reference ILIKE %[1]s))", p))
	}
	if len(q.Statuses) > 0 {
		clauses = append(clauses, "status = ANY("+next(statusStrings(q.Statuses))+")")
	}
	if !q.IncludeHidden {
		clauses = append(clauses, "NOT (status = ANY("+next(statusStrings(board.HiddenStatuses()))+"))")
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// LoadAllRecords returns every work item with its invoice references for a
// full reindex.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]ItemRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.description, w.client_name, w.contact_name, w.created_by, w.status, w.rejected,
		       COALESCE(array_agg(inv.reference ORDER BY inv.reference) FILTER (WHERE inv.reference IS NOT NULL), '{}')
		FROM work_items w
		LEFT JOIN work_item_invoices inv ON inv.work_item_id = w.id
		GROUP BY w.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	types := pgtype.NewMap()
	records := make([]ItemRecord, 0)
	for rows.Next() {
		var r ItemRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.ClientName, &r.ContactName, &r.CreatedBy, &r.Status, &r.Rejected, types.SQLScanner(&r.Invoices)); err != nil {
			return nil, fmt.Errorf("scan item record: %w", err)
		}
		r.Column = string(board.ColumnFor(board.Status(r.Status)))
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item records: %w", err)
	}
	return records, nil
}

// LoadInvoices returns the invoice references attached to one item.
func (p *PgSearch) LoadInvoices(ctx context.Context, itemID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT reference FROM work_item_invoices WHERE work_item_id = $1 ORDER BY reference`, itemID)
	if err != nil {
		return nil, fmt.Errorf("load invoices: %w", err)
	}
	defer rows.Close()

	refs := make([]string, 0)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func statusStrings(statuses []board.Status) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

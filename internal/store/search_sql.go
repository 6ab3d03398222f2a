package store

import (
	"fmt"
	"strings"
	"time"

	"jobboard/api/internal/board"
)

// searchableColumns are matched by free-text terms on board listings.
var searchableColumns = []string{"name", "description", "client_name", "contact_name", "created_by"}

// ItemFilter is the advanced search filter set. Zero values mean "not
// filtered"; every populated field is ANDed with the others.
type ItemFilter struct {
	Name             string
	Description      string
	ClientName       string
	ContactName      string
	CreatedBy        string
	InvoiceReference string
	// Query matches any text field, invoice references included.
	Query       string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	DueFrom     *time.Time
	DueTo       *time.Time
	Rejected    *bool
	HasDueDate  *bool
	Statuses    []board.Status
}

func (f ItemFilter) IsEmpty() bool {
	return f.Name == "" && f.Description == "" && f.ClientName == "" && f.ContactName == "" &&
		f.CreatedBy == "" && f.InvoiceReference == "" && f.Query == "" &&
		f.CreatedFrom == nil && f.CreatedTo == nil && f.DueFrom == nil && f.DueTo == nil &&
		f.Rejected == nil && f.HasDueDate == nil && len(f.Statuses) == 0
}

type whereBuilder struct {
	clauses []string
	args    []any
}

func (b *whereBuilder) arg(value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *whereBuilder) add(clause string) {
	b.clauses = append(b.clauses, clause)
}

func (b *whereBuilder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

func (b *whereBuilder) contains(column, value string) {
	b.add(fmt.Sprintf("%s ILIKE %s", column, b.arg(likePattern(value))))
}

// anyColumnContains adds one OR group so a term matches when it appears
// in any of the columns.
func (b *whereBuilder) anyColumnContains(columns []string, value string, withInvoices bool) {
	placeholder := b.arg(likePattern(value))
	parts := make([]string, 0, len(columns)+1)
	for _, column := range columns {
		parts = append(parts, fmt.Sprintf("%s ILIKE %s", column, placeholder))
	}
	if withInvoices {
		parts = append(parts, invoiceExists(placeholder))
	}
	b.add("(" + strings.Join(parts, " OR ") + ")")
}

// invoiceExists keeps the multi-valued invoice relation out of the FROM
// clause so a job with several matching invoices is still returned once.
func invoiceExists(placeholder string) string {
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM work_item_invoices inv WHERE inv.work_item_id = work_items.id AND inv.reference ILIKE %s)",
		placeholder,
	)
}

func buildStatusFilter(status board.Status, terms []string) (string, []any) {
	b := &whereBuilder{}
	b.add("status = " + b.arg(string(status)))
	for _, term := range terms {
		if term = strings.TrimSpace(term); term != "" {
			b.anyColumnContains(searchableColumns, term, false)
		}
	}
	return b.where(), b.args
}

func buildItemFilter(f ItemFilter) (string, []any) {
	b := &whereBuilder{}

	textFields := []struct {
		column string
		value  string
	}{
		{"name", f.Name},
		{"description", f.Description},
		{"client_name", f.ClientName},
		{"contact_name", f.ContactName},
		{"created_by", f.CreatedBy},
	}
	for _, field := range textFields {
		if value := strings.TrimSpace(field.value); value != "" {
			b.contains(field.column, value)
		}
	}
	if reference := strings.TrimSpace(f.InvoiceReference); reference != "" {
		b.add(invoiceExists(b.arg(likePattern(reference))))
	}
	if query := strings.TrimSpace(f.Query); query != "" {
		b.anyColumnContains(searchableColumns, query, true)
	}

	if f.CreatedFrom != nil {
		b.add("created_at >= " + b.arg(startOfDay(*f.CreatedFrom)))
	}
	if f.CreatedTo != nil {
		b.add("created_at < " + b.arg(startOfDay(*f.CreatedTo).AddDate(0, 0, 1)))
	}
	if f.DueFrom != nil {
		b.add("due_date >= " + b.arg(startOfDay(*f.DueFrom)))
	}
	if f.DueTo != nil {
		b.add("due_date <= " + b.arg(startOfDay(*f.DueTo)))
	}

	if f.Rejected != nil {
		b.add("rejected = " + b.arg(*f.Rejected))
	}
	if f.HasDueDate != nil {
		if *f.HasDueDate {
			b.add("due_date IS NOT NULL")
		} else {
			b.add("due_date IS NULL")
		}
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, status := range f.Statuses {
			statuses[i] = string(status)
		}
		b.add("status = ANY(" + b.arg(statuses) + ")")
	}

	return b.where(), b.args
}

func likePattern(value string) string {
	return "%" + escapeLike(value) + "%"
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

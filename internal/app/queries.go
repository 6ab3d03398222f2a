package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"jobboard/api/internal/board"
	"jobboard/api/internal/search"
	"jobboard/api/internal/store"
)

// AdvancedSearchInput is the raw filter form. Dates use YYYY-MM-DD and
// every bound is inclusive.
type AdvancedSearchInput struct {
	Query            string   `json:"q"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	ClientName       string   `json:"clientName"`
	ContactName      string   `json:"contactName"`
	CreatedBy        string   `json:"createdBy"`
	InvoiceReference string   `json:"invoiceReference"`
	CreatedFrom      string   `json:"createdFrom"`
	CreatedTo        string   `json:"createdTo"`
	DueFrom          string   `json:"dueFrom"`
	DueTo            string   `json:"dueTo"`
	Rejected         *bool    `json:"rejected"`
	HasDueDate       *bool    `json:"hasDueDate"`
	Statuses         []string `json:"statuses"`
}

// ColumnView is a catalog column with the total number of items in its
// status. The count is not limited by the listing cap.
type ColumnView struct {
	board.Column
	Count int `json:"count"`
}

// QueryByStatus lists one status in board order. Search terms are split on
// whitespace and every term must match at least one text field.
func (s *Service) QueryByStatus(ctx context.Context, rawStatus, terms string, limit int) ([]board.Item, error) {
	status, err := board.ParseStatus(rawStatus)
	if err != nil {
		return nil, domainError(http.StatusNotFound, codeStatusNotFound, "status not found", map[string]string{"status": rawStatus})
	}
	return s.listStatus(ctx, status, strings.Fields(terms), limit)
}

// QueryByColumn resolves a column id to its status. Unknown columns are an
// error, never an empty list.
func (s *Service) QueryByColumn(ctx context.Context, columnID string, maxItems int, term string) ([]board.Item, error) {
	column, ok := board.ColumnByID(board.ColumnID(strings.TrimSpace(columnID)))
	if !ok {
		return nil, domainError(http.StatusNotFound, codeColumnNotFound, "column not found", map[string]string{"columnId": columnID})
	}
	return s.listStatus(ctx, column.Status, strings.Fields(term), maxItems)
}

func (s *Service) listStatus(ctx context.Context, status board.Status, terms []string, requested int) ([]board.Item, error) {
	limit := s.limitFor(status, requested)
	var (
		generation int64
		cacheable  bool
	)
	if len(terms) == 0 {
		if items, ok := s.cache.LoadStatus(ctx, status, limit); ok {
			return items, nil
		}
		generation, cacheable = s.cache.Generation(ctx, status)
	}

	items, err := s.store.ListByStatus(ctx, status, terms, limit)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.cache.StoreStatus(ctx, status, generation, limit, items)
	}
	return items, nil
}

// limitFor clamps a requested page size to the per-status cap. Archived
// history is unbounded so it gets the smaller cap.
func (s *Service) limitFor(status board.Status, requested int) int {
	ceiling := s.cfg.DefaultLimit
	if status == board.StatusArchived {
		ceiling = s.cfg.ArchivedLimit
	}
	if ceiling <= 0 {
		return requested
	}
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}

// AllActive returns every item on the visible board: archived and hidden
// statuses are left out.
func (s *Service) AllActive(ctx context.Context) ([]board.Item, error) {
	return s.store.ListActive(ctx, excludedFromBoard())
}

func excludedFromBoard() []board.Status {
	excluded := board.HiddenStatuses()
	for _, status := range excluded {
		if status == board.StatusArchived {
			return excluded
		}
	}
	return append(excluded, board.StatusArchived)
}

func (s *Service) AdvancedSearch(ctx context.Context, input AdvancedSearchInput) ([]board.Item, error) {
	filter, err := buildFilter(input)
	if err != nil {
		return nil, err
	}
	return s.store.AdvancedSearch(ctx, filter)
}

// buildFilter validates the raw form before anything touches the database.
func buildFilter(input AdvancedSearchInput) (store.ItemFilter, error) {
	filter := store.ItemFilter{
		Query:            strings.TrimSpace(input.Query),
		Name:             strings.TrimSpace(input.Name),
		Description:      strings.TrimSpace(input.Description),
		ClientName:       strings.TrimSpace(input.ClientName),
		ContactName:      strings.TrimSpace(input.ContactName),
		CreatedBy:        strings.TrimSpace(input.CreatedBy),
		InvoiceReference: strings.TrimSpace(input.InvoiceReference),
		Rejected:         input.Rejected,
		HasDueDate:       input.HasDueDate,
	}

	dates := []struct {
		field string
		raw   string
		dst   **time.Time
	}{
		{"createdFrom", input.CreatedFrom, &filter.CreatedFrom},
		{"createdTo", input.CreatedTo, &filter.CreatedTo},
		{"dueFrom", input.DueFrom, &filter.DueFrom},
		{"dueTo", input.DueTo, &filter.DueTo},
	}
	for _, d := range dates {
		parsed, err := parseDateField(d.field, d.raw)
		if err != nil {
			return store.ItemFilter{}, err
		}
		*d.dst = parsed
	}
	if filter.CreatedFrom != nil && filter.CreatedTo != nil && filter.CreatedTo.Before(*filter.CreatedFrom) {
		return store.ItemFilter{}, invalidInput("createdTo is before createdFrom", nil)
	}
	if filter.DueFrom != nil && filter.DueTo != nil && filter.DueTo.Before(*filter.DueFrom) {
		return store.ItemFilter{}, invalidInput("dueTo is before dueFrom", nil)
	}

	for _, raw := range input.Statuses {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		status, err := board.ParseStatus(raw)
		if err != nil {
			return store.ItemFilter{}, invalidInput("unknown status", map[string]string{"status": raw})
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}

// ListColumns returns the catalog in board order with live item counts.
// Hidden columns are only included on request.
func (s *Service) ListColumns(ctx context.Context, includeHidden bool) ([]ColumnView, error) {
	columns := board.VisibleColumns()
	if includeHidden {
		columns = board.Columns()
	}
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]ColumnView, 0, len(columns))
	for _, column := range columns {
		views = append(views, ColumnView{Column: column, Count: counts[column.Status]})
	}
	return views, nil
}

// QuickSearch is the global search box. It never fails; backend errors are
// logged by the search service and surface as an empty result.
func (s *Service) QuickSearch(ctx context.Context, text string, includeHidden bool, limit, offset int) search.Response {
	text = strings.TrimSpace(text)
	if s.search == nil || text == "" {
		return search.Response{Results: []search.Result{}, Total: 0, Query: text}
	}
	return s.search.Search(ctx, search.Query{
		Text:          text,
		IncludeHidden: includeHidden,
		Limit:         limit,
		Offset:        offset,
	})
}

// Reindex rebuilds the quick search index from Postgres.
func (s *Service) Reindex(ctx context.Context) {
	if s.search == nil {
		return
	}
	log.Info("rebuilding search index")
	s.search.ReindexAllFromPG(ctx)
}

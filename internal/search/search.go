package search

import (
	"context"
	"strings"

	"jobboard/api/internal/board"
)

// Result is a single quick-search hit returned to the caller.
type Result struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Snippet    string         `json:"snippet"`
	ClientName string         `json:"clientName"`
	Status     board.Status   `json:"status"`
	Column     board.ColumnID `json:"column"`
}

// Query describes a quick-search request.
type Query struct {
	Text string
	// Statuses restricts hits; empty means every status.
	Statuses      []board.Status
	IncludeHidden bool
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ItemRecord is the data we index for a work item.
type ItemRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ClientName  string   `json:"clientName"`
	ContactName string   `json:"contactName"`
	CreatedBy   string   `json:"createdBy"`
	Status      string   `json:"status"`
	Column      string   `json:"column"`
	Rejected    bool     `json:"rejected"`
	Invoices    []string `json:"invoices,omitempty"`
}

func RecordFromItem(item board.Item) ItemRecord {
	return ItemRecord{
		ID:          item.ID,
		Name:        item.Name,
		Description: item.Description,
		ClientName:  item.ClientName,
		ContactName: item.ContactName,
		CreatedBy:   item.CreatedBy,
		Status:      string(item.Status),
		Column:      string(item.Column()),
		Rejected:    item.Rejected,
	}
}

// Searcher can execute a quick search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// Indexer keeps an external index in step with the work item table.
type Indexer interface {
	Searcher
	Healthy() bool
	IndexItems(records []ItemRecord) error
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}

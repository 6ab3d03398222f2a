package board

import "time"

// Item is a work item as seen by the board. Priority is only ever written
// by the Assigner or by a rebalance.
type Item struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Priority    int64      `json:"priority"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ClientName  string     `json:"clientName"`
	ContactName string     `json:"contactName"`
	CreatedBy   string     `json:"createdBy"`
	Rejected    bool       `json:"rejected"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (i Item) Column() ColumnID {
	return ColumnFor(i.Status)
}

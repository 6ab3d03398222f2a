package board

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the raw lifecycle state stored on a work item.
type Status string

const (
	StatusQuoting           Status = "quoting"
	StatusAccepted          Status = "accepted"
	StatusAwaitingMaterials Status = "awaiting_materials"
	StatusInProduction      Status = "in_production"
	StatusInstallation      Status = "installation"
	StatusRecentlyCompleted Status = "recently_completed"
	StatusArchived          Status = "archived"
	StatusSpecial           Status = "special"
)

var ErrUnknownStatus = errors.New("unknown status")

type ColumnID string

type Badge struct {
	Label      string `json:"label"`
	ColorClass string `json:"colorClass"`
}

// Column is one lane of the board. Each column maps to exactly one status.
type Column struct {
	ID     ColumnID `json:"id"`
	Title  string   `json:"title"`
	Status Status   `json:"status"`
	Hidden bool     `json:"hidden"`
	Color  string   `json:"color"`
	Badge  Badge    `json:"badge"`
}

// catalog is ordered left to right as rendered; the first entry is the
// default column for statuses the catalog does not know.
var catalog = []Column{
	{ID: "quotes", Title: "Quoting", Status: StatusQuoting, Color: "#3b82f6", Badge: Badge{Label: "Quote", ColorClass: "badge-blue"}},
	{ID: "accepted", Title: "Accepted", Status: StatusAccepted, Color: "#6366f1", Badge: Badge{Label: "Accepted", ColorClass: "badge-indigo"}},
	{ID: "materials", Title: "Awaiting Materials", Status: StatusAwaitingMaterials, Color: "#f59e0b", Badge: Badge{Label: "Materials", ColorClass: "badge-amber"}},
	{ID: "production", Title: "In Production", Status: StatusInProduction, Color: "#eab308", Badge: Badge{Label: "Production", ColorClass: "badge-yellow"}},
	{ID: "install", Title: "Installation", Status: StatusInstallation, Color: "#f97316", Badge: Badge{Label: "Install", ColorClass: "badge-orange"}},
	{ID: "completed", Title: "Recently Completed", Status: StatusRecentlyCompleted, Color: "#22c55e", Badge: Badge{Label: "Done", ColorClass: "badge-green"}},
	{ID: "archive", Title: "Archived", Status: StatusArchived, Hidden: true, Color: "#6b7280", Badge: Badge{Label: "Archived", ColorClass: "badge-gray"}},
	{ID: "special", Title: "Special", Status: StatusSpecial, Hidden: true, Color: "#a855f7", Badge: Badge{Label: "Special", ColorClass: "badge-purple"}},
}

var byStatus, byColumnID = indexCatalog()

func indexCatalog() (map[Status]Column, map[ColumnID]Column) {
	statuses := make(map[Status]Column, len(catalog))
	columns := make(map[ColumnID]Column, len(catalog))
	for _, column := range catalog {
		statuses[column.Status] = column
		columns[column.ID] = column
	}
	return statuses, columns
}

// ParseStatus normalises a raw status string and rejects values outside the catalog.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := byStatus[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return status, nil
}

func DefaultColumn() Column {
	return catalog[0]
}

// ColumnFor never fails: unknown statuses land in the default column so
// rendering a board cannot error on unexpected data.
func ColumnFor(status Status) ColumnID {
	return columnOf(status).ID
}

func columnOf(status Status) Column {
	if column, ok := byStatus[status]; ok {
		return column
	}
	return DefaultColumn()
}

func ColumnByID(id ColumnID) (Column, bool) {
	column, ok := byColumnID[id]
	return column, ok
}

func IsHidden(status Status) bool {
	column, ok := byStatus[status]
	return ok && column.Hidden
}

// Columns returns every column, hidden ones included, in board order.
func Columns() []Column {
	out := make([]Column, len(catalog))
	copy(out, catalog)
	return out
}

func VisibleColumns() []Column {
	out := make([]Column, 0, len(catalog))
	for _, column := range catalog {
		if !column.Hidden {
			out = append(out, column)
		}
	}
	return out
}

func HiddenStatuses() []Status {
	var out []Status
	for _, column := range catalog {
		if column.Hidden {
			out = append(out, column.Status)
		}
	}
	return out
}

func BadgeFor(status Status) Badge {
	return columnOf(status).Badge
}

// Title is the human label used in transition descriptions. Unknown
// statuses fall back to their raw value rather than the default column title.
func Title(status Status) string {
	if column, ok := byStatus[status]; ok {
		return column.Title
	}
	if status == "" {
		return "(none)"
	}
	return string(status)
}

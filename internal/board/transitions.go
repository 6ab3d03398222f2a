package board

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventCreated       EventType = "created"
	EventStatusChanged EventType = "status_changed"
	EventFieldChanged  EventType = "field_changed"
	EventRejected      EventType = "rejected"
)

// Event is an immutable audit record of one detected change on a work item.
type Event struct {
	ID          int64     `json:"id,omitempty"`
	ItemID      string    `json:"itemId"`
	Type        EventType `json:"type"`
	Field       string    `json:"field,omitempty"`
	OldValue    string    `json:"oldValue,omitempty"`
	NewValue    string    `json:"newValue,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

const dateLayout = "2006-01-02"

// generator inspects a field delta and may consult other fields of cur.
// Returning nil means "no change worth recording".
type generator func(prev, cur Item) []Event

// Recorder turns the difference between two versions of an item into
// transition events. Generators run in a fixed order (status, name,
// description, client_name, contact_name, due_date, rejected) so the output
// is deterministic.
type Recorder struct {
	generators []generator
}

func NewRecorder() *Recorder {
	return &Recorder{generators: []generator{
		statusChanged,
		textChanged("name", "Name", func(i Item) string { return i.Name }),
		textChanged("description", "Description", func(i Item) string { return i.Description }),
		textChanged("client_name", "Client", func(i Item) string { return i.ClientName }),
		textChanged("contact_name", "Contact", func(i Item) string { return i.ContactName }),
		dueDateChanged,
		rejectedChanged,
	}}
}

func (r *Recorder) Record(prev, cur Item, actor string, at time.Time) []Event {
	var events []Event
	for _, gen := range r.generators {
		for _, ev := range gen(prev, cur) {
			ev.ItemID = cur.ID
			ev.Actor = actor
			ev.CreatedAt = at
			events = append(events, ev)
		}
	}
	return events
}

func (r *Recorder) Created(item Item, actor string, at time.Time) Event {
	return Event{
		ItemID:      item.ID,
		Type:        EventCreated,
		Field:       "status",
		NewValue:    string(item.Status),
		Actor:       actor,
		Description: fmt.Sprintf("Job created in %s", Title(item.Status)),
		CreatedAt:   at,
	}
}

func statusChanged(prev, cur Item) []Event {
	if prev.Status == cur.Status {
		return nil
	}
	events := []Event{{
		Type:        EventStatusChanged,
		Field:       "status",
		OldValue:    string(prev.Status),
		NewValue:    string(cur.Status),
		Description: fmt.Sprintf("Status changed from %s to %s", Title(prev.Status), Title(cur.Status)),
	}}
	if cur.Status == StatusRecentlyCompleted && cur.Rejected {
		events = append(events, Event{
			Type:        EventRejected,
			Field:       "status",
			OldValue:    string(prev.Status),
			NewValue:    string(cur.Status),
			Description: "Job completed as rejected",
		})
	}
	return events
}

func textChanged(field, label string, get func(Item) string) generator {
	return func(prev, cur Item) []Event {
		oldValue, newValue := get(prev), get(cur)
		if oldValue == newValue {
			return nil
		}
		var description string
		switch {
		case oldValue == "":
			description = fmt.Sprintf("%s set to %q", label, newValue)
		case newValue == "":
			description = fmt.Sprintf("%s cleared (was %q)", label, oldValue)
		default:
			description = fmt.Sprintf("%s changed from %q to %q", label, oldValue, newValue)
		}
		return []Event{{
			Type:        EventFieldChanged,
			Field:       field,
			OldValue:    oldValue,
			NewValue:    newValue,
			Description: description,
		}}
	}
}

func dueDateChanged(prev, cur Item) []Event {
	oldValue, newValue := formatDate(prev.DueDate), formatDate(cur.DueDate)
	if oldValue == newValue {
		return nil
	}
	var description string
	switch {
	case oldValue == "":
		description = fmt.Sprintf("Due date set to %s", newValue)
	case newValue == "":
		description = fmt.Sprintf("Due date cleared (was %s)", oldValue)
	default:
		description = fmt.Sprintf("Due date moved from %s to %s", oldValue, newValue)
	}
	return []Event{{
		Type:        EventFieldChanged,
		Field:       "due_date",
		OldValue:    oldValue,
		NewValue:    newValue,
		Description: description,
	}}
}

func rejectedChanged(prev, cur Item) []Event {
	if prev.Rejected == cur.Rejected {
		return nil
	}
	description := "Marked as rejected"
	if !cur.Rejected {
		description = "Rejection cleared"
	}
	return []Event{{
		Type:        EventFieldChanged,
		Field:       "rejected",
		OldValue:    fmt.Sprint(prev.Rejected),
		NewValue:    fmt.Sprint(cur.Rejected),
		Description: description,
	}}
}

// formatDate treats nil and the zero time as the same unset value.
func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

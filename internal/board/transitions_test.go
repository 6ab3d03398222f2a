package board

import (
	"reflect"
	"testing"
	"time"
)

var recordedAt = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestRecordNoChangesProducesNoEvents(t *testing.T) {
	item := Item{ID: "job_1", Status: StatusAccepted, Name: "Gate", Priority: 400}
	moved := item
	moved.Priority = 900
	if events := NewRecorder().Record(item, moved, "Dana", recordedAt); len(events) != 0 {
		t.Fatalf("priority-only change produced events: %#v", events)
	}
}

func TestRecordStatusChange(t *testing.T) {
	prev := Item{ID: "job_1", Status: StatusQuoting}
	cur := prev
	cur.Status = StatusAccepted

	events := NewRecorder().Record(prev, cur, "Dana", recordedAt)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %#v", events)
	}
	want := Event{
		ItemID:      "job_1",
		Type:        EventStatusChanged,
		Field:       "status",
		OldValue:    "quoting",
		NewValue:    "accepted",
		Actor:       "Dana",
		Description: "Status changed from Quoting to Accepted",
		CreatedAt:   recordedAt,
	}
	if !reflect.DeepEqual(events[0], want) {
		t.Fatalf("event = %#v, want %#v", events[0], want)
	}
}

func TestRecordRejectedCompletionIsCompound(t *testing.T) {
	prev := Item{ID: "job_2", Status: StatusInstallation, Rejected: true}
	cur := prev
	cur.Status = StatusRecentlyCompleted

	events := NewRecorder().Record(prev, cur, "", recordedAt)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %#v", len(events), events)
	}
	if events[0].Type != EventStatusChanged || events[1].Type != EventRejected {
		t.Fatalf("unexpected event order: %s, %s", events[0].Type, events[1].Type)
	}
}

func TestRecordCompletionWithoutRejectionIsSingle(t *testing.T) {
	prev := Item{ID: "job_3", Status: StatusInstallation}
	cur := prev
	cur.Status = StatusRecentlyCompleted
	if events := NewRecorder().Record(prev, cur, "", recordedAt); len(events) != 1 {
		t.Fatalf("expected 1 event, got %#v", events)
	}
}

func TestRecordRejectedFlagOutsideCompletion(t *testing.T) {
	prev := Item{ID: "job_4", Status: StatusInstallation, Rejected: true}
	cur := prev
	cur.Status = StatusArchived
	events := NewRecorder().Record(prev, cur, "", recordedAt)
	if len(events) != 1 || events[0].Type != EventStatusChanged {
		t.Fatalf("archiving a rejected job should emit one status event, got %#v", events)
	}
}

func TestRecordTextFields(t *testing.T) {
	prev := Item{ID: "job_5", Name: "Railing", ClientName: "", ContactName: "Lee"}
	cur := prev
	cur.Name = "Stair railing"
	cur.ClientName = "Harbor Homes"
	cur.ContactName = ""

	events := NewRecorder().Record(prev, cur, "Sam", recordedAt)
	got := make([]string, len(events))
	for i, ev := range events {
		got[i] = ev.Description
	}
	want := []string{
		`Name changed from "Railing" to "Stair railing"`,
		`Client set to "Harbor Homes"`,
		`Contact cleared (was "Lee")`,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("descriptions = %#v, want %#v", got, want)
	}
	for _, ev := range events {
		if ev.Type != EventFieldChanged || ev.Actor != "Sam" || ev.ItemID != "job_5" {
			t.Fatalf("unexpected event envelope %#v", ev)
		}
	}
}

func TestRecordDueDate(t *testing.T) {
	zero := time.Time{}
	cases := []struct {
		name string
		prev *time.Time
		cur  *time.Time
		want string
	}{
		{name: "both unset", prev: nil, cur: nil},
		{name: "nil to zero", prev: nil, cur: &zero},
		{name: "same day different clock", prev: date(2026, 4, 1), cur: func() *time.Time { t := date(2026, 4, 1).Add(5 * time.Hour); return &t }()},
		{name: "set", prev: nil, cur: date(2026, 4, 1), want: "Due date set to 2026-04-01"},
		{name: "cleared", prev: date(2026, 4, 1), cur: nil, want: "Due date cleared (was 2026-04-01)"},
		{name: "moved", prev: date(2026, 4, 1), cur: date(2026, 4, 9), want: "Due date moved from 2026-04-01 to 2026-04-09"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events := NewRecorder().Record(Item{DueDate: tc.prev}, Item{DueDate: tc.cur}, "", recordedAt)
			if tc.want == "" {
				if len(events) != 0 {
					t.Fatalf("expected no events, got %#v", events)
				}
				return
			}
			if len(events) != 1 || events[0].Description != tc.want {
				t.Fatalf("events = %#v, want %q", events, tc.want)
			}
		})
	}
}

func TestRecordFieldOrderIsStable(t *testing.T) {
	prev := Item{ID: "job_6", Status: StatusQuoting, Name: "A", Rejected: false}
	cur := Item{ID: "job_6", Status: StatusRecentlyCompleted, Name: "B", Rejected: true}
	events := NewRecorder().Record(prev, cur, "", recordedAt)

	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, string(ev.Type)+":"+ev.Field)
	}
	want := []string{"status_changed:status", "rejected:status", "field_changed:name", "field_changed:rejected"}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
}

func TestCreatedEvent(t *testing.T) {
	ev := NewRecorder().Created(Item{ID: "job_7", Status: StatusQuoting}, "Dana", recordedAt)
	if ev.Type != EventCreated || ev.Description != "Job created in Quoting" || ev.ItemID != "job_7" {
		t.Fatalf("unexpected created event %#v", ev)
	}
}

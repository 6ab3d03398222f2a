package board

import (
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	cases := []struct {
		raw     string
		want    Status
		wantErr bool
	}{
		{raw: "quoting", want: StatusQuoting},
		{raw: "  In_Production ", want: StatusInProduction},
		{raw: "RECENTLY_COMPLETED", want: StatusRecentlyCompleted},
		{raw: "special", want: StatusSpecial},
		{raw: "", wantErr: true},
		{raw: "shipped", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseStatus(tc.raw)
			if tc.wantErr {
				if !errors.Is(err, ErrUnknownStatus) {
					t.Fatalf("ParseStatus(%q) error = %v, want ErrUnknownStatus", tc.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatus(%q) unexpected error: %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("ParseStatus(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestColumnForUnknownStatusFallsBackToDefault(t *testing.T) {
	if got := ColumnFor(Status("mystery")); got != DefaultColumn().ID {
		t.Fatalf("ColumnFor(unknown) = %q, want %q", got, DefaultColumn().ID)
	}
	if got := BadgeFor(Status("mystery")); got != DefaultColumn().Badge {
		t.Fatalf("BadgeFor(unknown) = %#v, want default badge", got)
	}
}

func TestCatalogIsOneToOne(t *testing.T) {
	seenStatus := map[Status]bool{}
	seenID := map[ColumnID]bool{}
	for _, column := range Columns() {
		if seenStatus[column.Status] || seenID[column.ID] {
			t.Fatalf("duplicate catalog entry %#v", column)
		}
		seenStatus[column.Status] = true
		seenID[column.ID] = true

		byID, ok := ColumnByID(column.ID)
		if !ok || byID.Status != column.Status {
			t.Fatalf("ColumnByID(%q) = %#v, %v", column.ID, byID, ok)
		}
		if ColumnFor(column.Status) != column.ID {
			t.Fatalf("ColumnFor(%q) = %q, want %q", column.Status, ColumnFor(column.Status), column.ID)
		}
	}
}

func TestVisibleColumnsExcludeHidden(t *testing.T) {
	visible := VisibleColumns()
	if len(visible)+len(HiddenStatuses()) != len(Columns()) {
		t.Fatalf("visible %d + hidden %d != all %d", len(visible), len(HiddenStatuses()), len(Columns()))
	}
	for _, column := range visible {
		if column.Hidden || IsHidden(column.Status) {
			t.Fatalf("hidden column %q returned as visible", column.ID)
		}
	}
	if !IsHidden(StatusArchived) || !IsHidden(StatusSpecial) {
		t.Fatal("archived and special must be hidden")
	}
	if IsHidden(Status("mystery")) {
		t.Fatal("unknown status must not report hidden")
	}
}

func TestColumnsReturnsCopy(t *testing.T) {
	columns := Columns()
	columns[0].Title = "changed"
	if DefaultColumn().Title == "changed" {
		t.Fatal("Columns exposed the catalog backing array")
	}
}

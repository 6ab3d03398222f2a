package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"jobboard/api/internal/board"
	"jobboard/api/internal/config"
	"jobboard/api/internal/store"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// fakeStore is an in-memory dataStore. WithinBoardLock holds one mutex for
// the whole callback and restores the previous state when it fails, which
// is enough to exercise rollback and serialised writers.
type fakeStore struct {
	mu          sync.Mutex
	items       map[string]board.Item
	events      []board.Event
	staff       map[string]store.Staff
	attachments []store.Attachment

	pingErr          error
	lockErr          error
	failInsertEvents error

	lockCalls  [][]board.Status
	listCalls  int
	lastFilter store.ItemFilter
	nextEvent  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items: map[string]board.Item{},
		staff: map[string]store.Staff{},
	}
}

func (f *fakeStore) seed(items ...board.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		if item.CreatedAt.IsZero() {
			item.CreatedAt = testNow
			item.UpdatedAt = testNow
		}
		f.items[item.ID] = item
	}
}

func (f *fakeStore) item(id string) board.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

// column returns the ids of one status in board order.
func (f *fakeStore) column(status board.Status) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, item := range f.ordered(status, "") {
		ids = append(ids, item.ID)
	}
	return ids
}

func (f *fakeStore) priorities(status board.Status) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, item := range f.ordered(status, "") {
		out = append(out, item.Priority)
	}
	return out
}

func (f *fakeStore) eventsFor(itemID string) []board.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []board.Event
	for _, ev := range f.events {
		if ev.ItemID == itemID {
			out = append(out, ev)
		}
	}
	return out
}

// ordered must be called with f.mu held.
func (f *fakeStore) ordered(status board.Status, excludeID string) []board.Item {
	var out []board.Item
	for _, item := range f.items {
		if item.Status == status && item.ID != excludeID {
			out = append(out, item)
		}
	}
	sortBoard(out)
	return out
}

func sortBoard(items []board.Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].ID < items[j].ID
	})
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeStore) GetItem(_ context.Context, id string) (board.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(id)
}

func (f *fakeStore) get(id string) (board.Item, error) {
	item, ok := f.items[id]
	if !ok {
		return board.Item{}, fmt.Errorf("item %s: %w", id, store.ErrNotFound)
	}
	return item, nil
}

func (f *fakeStore) ListByStatus(_ context.Context, status board.Status, terms []string, limit int) ([]board.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := make([]board.Item, 0)
	for _, item := range f.ordered(status, "") {
		if matchesAll(item, terms) {
			out = append(out, item)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesAll(item board.Item, terms []string) bool {
	fields := strings.ToLower(strings.Join([]string{item.Name, item.Description, item.ClientName, item.ContactName, item.CreatedBy}, "\n"))
	for _, term := range terms {
		if !strings.Contains(fields, strings.ToLower(term)) {
			return false
		}
	}
	return true
}

func (f *fakeStore) ListActive(_ context.Context, excluded []board.Status) ([]board.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	skip := map[board.Status]bool{}
	for _, status := range excluded {
		skip[status] = true
	}
	out := make([]board.Item, 0)
	for _, item := range f.items {
		if !skip[item.Status] {
			out = append(out, item)
		}
	}
	sortBoard(out)
	return out, nil
}

func (f *fakeStore) CountByStatus(context.Context) (map[board.Status]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[board.Status]int{}
	for _, item := range f.items {
		counts[item.Status]++
	}
	return counts, nil
}

func (f *fakeStore) AdvancedSearch(_ context.Context, filter store.ItemFilter) ([]board.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	out := make([]board.Item, 0, len(f.items))
	for _, item := range f.items {
		out = append(out, item)
	}
	sortBoard(out)
	return out, nil
}

func (f *fakeStore) ListEvents(_ context.Context, itemID string) ([]board.Event, error) {
	return f.eventsFor(itemID), nil
}

func (f *fakeStore) EnsureStaffByName(_ context.Context, name string) (store.Staff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if staff, ok := f.staff[name]; ok {
		return staff, nil
	}
	staff := store.Staff{ID: "stf_" + strings.ToLower(name), DisplayName: name, Role: "office", CreatedAt: testNow}
	f.staff[name] = staff
	return staff, nil
}

func (f *fakeStore) WithinBoardLock(_ context.Context, statuses []board.Status, fn func(store.BoardTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockCalls = append(f.lockCalls, append([]board.Status(nil), statuses...))
	if f.lockErr != nil {
		return f.lockErr
	}

	items := make(map[string]board.Item, len(f.items))
	for id, item := range f.items {
		items[id] = item
	}
	eventCount := len(f.events)

	if err := fn(&fakeTx{f: f}); err != nil {
		f.items = items
		f.events = f.events[:eventCount]
		return err
	}
	return nil
}

func (f *fakeStore) InsertAttachment(_ context.Context, attachment store.Attachment) (store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attachment.CreatedAt = testNow
	f.attachments = append(f.attachments, attachment)
	return attachment, nil
}

func (f *fakeStore) ListAttachments(_ context.Context, itemID string) ([]store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Attachment, 0)
	for _, a := range f.attachments {
		if a.ItemID == itemID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) GetAttachment(_ context.Context, itemID, attachmentID string) (store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attachments {
		if a.ItemID == itemID && a.ID == attachmentID {
			return a, nil
		}
	}
	return store.Attachment{}, fmt.Errorf("attachment %s: %w", attachmentID, store.ErrNotFound)
}

// fakeTx runs with fakeStore.mu already held.
type fakeTx struct {
	f *fakeStore
}

func (t *fakeTx) GetItem(_ context.Context, id string) (board.Item, error) {
	return t.f.get(id)
}

func (t *fakeTx) GetItemForUpdate(_ context.Context, id string) (board.Item, error) {
	return t.f.get(id)
}

func (t *fakeTx) MaxPriority(_ context.Context, status board.Status, excludeID string) (int64, error) {
	column := t.f.ordered(status, excludeID)
	if len(column) == 0 {
		return 0, nil
	}
	return column[0].Priority, nil
}

func (t *fakeTx) NextBelow(_ context.Context, anchor board.Item, excludeID string) (*board.Item, error) {
	for _, item := range t.f.ordered(anchor.Status, excludeID) {
		if item.ID == anchor.ID {
			continue
		}
		if item.Priority < anchor.Priority || (item.Priority == anchor.Priority && item.ID > anchor.ID) {
			found := item
			return &found, nil
		}
	}
	return nil, nil
}

func (t *fakeTx) NextAbove(_ context.Context, anchor board.Item, excludeID string) (*board.Item, error) {
	column := t.f.ordered(anchor.Status, excludeID)
	for i := len(column) - 1; i >= 0; i-- {
		item := column[i]
		if item.ID == anchor.ID {
			continue
		}
		if item.Priority > anchor.Priority || (item.Priority == anchor.Priority && item.ID < anchor.ID) {
			return &item, nil
		}
	}
	return nil, nil
}

func (t *fakeTx) InsertItem(_ context.Context, item board.Item) (board.Item, error) {
	if _, exists := t.f.items[item.ID]; exists {
		return board.Item{}, fmt.Errorf("duplicate item %s", item.ID)
	}
	item.CreatedAt = testNow
	item.UpdatedAt = testNow
	t.f.items[item.ID] = item
	return item, nil
}

func (t *fakeTx) SaveItem(_ context.Context, item board.Item) (board.Item, error) {
	stored, ok := t.f.items[item.ID]
	if !ok {
		return board.Item{}, fmt.Errorf("item %s: %w", item.ID, store.ErrNotFound)
	}
	item.CreatedAt = stored.CreatedAt
	item.CreatedBy = stored.CreatedBy
	item.UpdatedAt = testNow
	t.f.items[item.ID] = item
	return item, nil
}

func (t *fakeTx) Rebalance(_ context.Context, status board.Status, assigner board.Assigner) (int, error) {
	column := t.f.ordered(status, "")
	ids := make([]string, len(column))
	for i, item := range column {
		ids[i] = item.ID
	}
	moved := 0
	for _, p := range assigner.Renumber(ids) {
		item := t.f.items[p.ItemID]
		if item.Priority != p.Priority {
			item.Priority = p.Priority
			t.f.items[p.ItemID] = item
			moved++
		}
	}
	return moved, nil
}

func (t *fakeTx) InsertEvents(_ context.Context, events []board.Event) error {
	if t.f.failInsertEvents != nil {
		return t.f.failInsertEvents
	}
	for _, ev := range events {
		t.f.nextEvent++
		ev.ID = t.f.nextEvent
		t.f.events = append(t.f.events, ev)
	}
	return nil
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (b *fakeBucket) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (int64, error) {
	if b.putErr != nil {
		return 0, b.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return int64(len(data)), nil
}

func (b *fakeBucket) PresignedURL(_ context.Context, key, _ string) (string, error) {
	return "https://files.example.test/" + key + "?sig=test", nil
}

func (b *fakeBucket) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.JWTSecret = "test-secret"
	cfg.AccessTTL = time.Hour
	cfg.PriorityIncrement = 200
	cfg.DefaultLimit = 200
	cfg.ArchivedLimit = 100
	return cfg
}

func newTestService(fs *fakeStore) *Service {
	svc := New(testConfig(), fs)
	svc.now = func() time.Time { return testNow }
	return svc
}

var dana = Session{UserID: "stf_dana", UserName: "Dana", Role: "office"}

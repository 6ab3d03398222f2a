package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jobboard/api/internal/attachments"
	"jobboard/api/internal/auth"
	"jobboard/api/internal/board"
	"jobboard/api/internal/cache"
	"jobboard/api/internal/config"
	"jobboard/api/internal/rbac"
	"jobboard/api/internal/search"
	"jobboard/api/internal/store"
	"jobboard/api/internal/util"
)

const tracerName = "jobboard/api/internal/app"

// Session is the authenticated staff member behind a request.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      rbac.Role
	ExpiresAt time.Time
}

type CreateItemInput struct {
	Status      string `json:"status"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ClientName  string `json:"clientName"`
	ContactName string `json:"contactName"`
	Rejected    bool   `json:"rejected"`
	DueDate     string `json:"dueDate"`
}

// UpdateItemInput carries field edits. Nil fields are left untouched and an
// empty DueDate clears the date. Priority and status are not editable here.
type UpdateItemInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ClientName  *string `json:"clientName"`
	ContactName *string `json:"contactName"`
	Rejected    *bool   `json:"rejected"`
	DueDate     *string `json:"dueDate"`
}

// ReorderInput places an item between two neighbours. BeforeID is the item
// that will sit directly above it and AfterID the one directly below. Either
// may be empty; with both empty the item goes to the top of the column.
type ReorderInput struct {
	BeforeID string `json:"beforeId"`
	AfterID  string `json:"afterId"`
	Status   string `json:"status"`
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetItem(ctx context.Context, id string) (board.Item, error)
	ListByStatus(ctx context.Context, status board.Status, terms []string, limit int) ([]board.Item, error)
	ListActive(ctx context.Context, excluded []board.Status) ([]board.Item, error)
	CountByStatus(ctx context.Context) (map[board.Status]int, error)
	AdvancedSearch(ctx context.Context, filter store.ItemFilter) ([]board.Item, error)
	ListEvents(ctx context.Context, itemID string) ([]board.Event, error)
	EnsureStaffByName(ctx context.Context, name string) (store.Staff, error)
	WithinBoardLock(ctx context.Context, statuses []board.Status, fn func(store.BoardTx) error) error
	InsertAttachment(ctx context.Context, attachment store.Attachment) (store.Attachment, error)
	ListAttachments(ctx context.Context, itemID string) ([]store.Attachment, error)
	GetAttachment(ctx context.Context, itemID, attachmentID string) (store.Attachment, error)
}

type objectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (int64, error)
	PresignedURL(ctx context.Context, key, fileName string) (string, error)
	Remove(ctx context.Context, key string) error
}

type Service struct {
	cfg         config.Config
	store       dataStore
	cache       *cache.BoardCache
	search      *search.Service
	attachments objectStore
	assigner    board.Assigner
	recorder    *board.Recorder
	now         func() time.Time
}

func New(cfg config.Config, data dataStore) *Service {
	return &Service{
		cfg:      cfg,
		store:    data,
		assigner: board.NewAssigner(cfg.PriorityIncrement),
		recorder: board.NewRecorder(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) UseCache(c *cache.BoardCache) {
	s.cache = c
}

func (s *Service) UseSearch(searchService *search.Service) {
	s.search = searchService
}

func (s *Service) UseAttachments(bucket *attachments.Bucket) {
	if bucket == nil {
		s.attachments = nil
		return
	}
	s.attachments = bucket
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness pings every configured backend. The board cache only reports
// when it is enabled.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if s.cache != nil {
		checks["cache"] = s.cache.Ping(ctx)
	}
	return checks
}

// errStatusMoved means the item changed column between the unlocked read
// and taking the column locks. The write is retried once with fresh locks.
var errStatusMoved = errors.New("item changed status while waiting for the board lock")

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, invalidInput("name is required", nil)
	}
	staff, err := s.store.EnsureStaffByName(ctx, name)
	if err != nil {
		return Session{}, err
	}
	now := s.now()
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), staff.ID, staff.DisplayName, staff.Role, s.cfg.AccessTTL, now)
	if err != nil {
		return Session{}, err
	}
	log.WithFields(log.Fields{"staff_id": staff.ID, "role": staff.Role}).Info("staff signed in")
	return Session{
		Token:     token,
		UserID:    staff.ID,
		UserName:  staff.DisplayName,
		Role:      rbac.Normalize(staff.Role),
		ExpiresAt: now.Add(s.cfg.AccessTTL),
	}, nil
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Subject,
		UserName:  claims.Name,
		Role:      rbac.Normalize(claims.Role),
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (board.Item, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return board.Item{}, notFoundAs(err, codeItemNotFound, "item not found", map[string]string{"itemId": id})
	}
	return item, nil
}

// CreateItem places a new item at the top of its column.
func (s *Service) CreateItem(ctx context.Context, actor Session, input CreateItemInput) (item board.Item, err error) {
	status := board.DefaultColumn().Status
	if strings.TrimSpace(input.Status) != "" {
		if status, err = board.ParseStatus(input.Status); err != nil {
			return board.Item{}, invalidInput("unknown status", map[string]string{"status": input.Status})
		}
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return board.Item{}, invalidInput("name is required", nil)
	}
	due, err := parseDateField("dueDate", input.DueDate)
	if err != nil {
		return board.Item{}, err
	}

	ctx, span := startSpan(ctx, "board.create", status)
	defer func() { endSpan(span, err) }()

	draft := board.Item{
		ID:          util.NewID("job"),
		Status:      status,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		ClientName:  strings.TrimSpace(input.ClientName),
		ContactName: strings.TrimSpace(input.ContactName),
		CreatedBy:   actor.UserName,
		Rejected:    input.Rejected,
		DueDate:     due,
	}

	err = s.store.WithinBoardLock(ctx, []board.Status{status}, func(tx store.BoardTx) error {
		highest, err := tx.MaxPriority(ctx, status, "")
		if err != nil {
			return err
		}
		if draft.Priority, err = s.assigner.Assign(nil, nil, highest); err != nil {
			return err
		}
		if item, err = tx.InsertItem(ctx, draft); err != nil {
			return err
		}
		return tx.InsertEvents(ctx, []board.Event{s.recorder.Created(item, actor.UserName, s.now())})
	})
	if err != nil {
		return board.Item{}, err
	}

	s.afterWrite(ctx, item, status)
	log.WithFields(log.Fields{"item_id": item.ID, "status": status, "priority": item.Priority}).Info("item created")
	return item, nil
}

// Reorder moves an item between two neighbours, optionally into another
// column. The target column is the explicit status if given, otherwise the
// neighbours' column, otherwise the item's current column.
func (s *Service) Reorder(ctx context.Context, actor Session, itemID string, input ReorderInput) (item board.Item, err error) {
	current, err := s.GetItem(ctx, itemID)
	if err != nil {
		return board.Item{}, err
	}
	target, err := s.reorderTarget(ctx, current, input)
	if err != nil {
		return board.Item{}, err
	}

	ctx, span := startSpan(ctx, "board.reorder", target)
	defer func() { endSpan(span, err) }()

	var rebalanced bool
	for attempt := 0; ; attempt++ {
		item, rebalanced, err = s.move(ctx, actor, current, target, input.BeforeID, input.AfterID)
		if !errors.Is(err, errStatusMoved) || attempt > 0 {
			break
		}
		if current, err = s.GetItem(ctx, itemID); err != nil {
			return board.Item{}, err
		}
	}
	if errors.Is(err, errStatusMoved) {
		err = fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	span.SetAttributes(attribute.Bool("board.rebalanced", rebalanced))
	if err != nil {
		return board.Item{}, err
	}

	log.WithFields(log.Fields{
		"item_id":    item.ID,
		"status":     item.Status,
		"priority":   item.Priority,
		"rebalanced": rebalanced,
	}).Info("item reordered")
	return item, nil
}

func (s *Service) reorderTarget(ctx context.Context, current board.Item, input ReorderInput) (board.Status, error) {
	if input.BeforeID != "" && input.BeforeID == input.AfterID {
		return "", invalidInput("beforeId and afterId must differ", nil)
	}
	if input.BeforeID == current.ID || input.AfterID == current.ID {
		return "", invalidInput("an item cannot be its own neighbour", nil)
	}

	var target board.Status
	if strings.TrimSpace(input.Status) != "" {
		status, err := board.ParseStatus(input.Status)
		if err != nil {
			return "", invalidInput("unknown status", map[string]string{"status": input.Status})
		}
		target = status
	}

	for _, id := range []string{input.BeforeID, input.AfterID} {
		if id == "" {
			continue
		}
		neighbour, err := s.store.GetItem(ctx, id)
		if err != nil {
			return "", notFoundAs(err, codeNeighborNotFound, "neighbour not found", map[string]string{"itemId": id})
		}
		if target == "" {
			target = neighbour.Status
		}
		if neighbour.Status != target {
			return "", invalidInput("neighbours must be in the target column", map[string]string{"itemId": id, "status": string(neighbour.Status)})
		}
	}

	if target == "" {
		target = current.Status
	}
	return target, nil
}

// SetStatus moves an item to the top of another column. Setting the status
// an item already has writes nothing and records nothing.
func (s *Service) SetStatus(ctx context.Context, actor Session, itemID, rawStatus string) (item board.Item, err error) {
	target, err := board.ParseStatus(rawStatus)
	if err != nil {
		return board.Item{}, invalidInput("unknown status", map[string]string{"status": rawStatus})
	}
	current, err := s.GetItem(ctx, itemID)
	if err != nil {
		return board.Item{}, err
	}
	if current.Status == target {
		return current, nil
	}

	ctx, span := startSpan(ctx, "board.set_status", target)
	defer func() { endSpan(span, err) }()

	for attempt := 0; ; attempt++ {
		item, _, err = s.move(ctx, actor, current, target, "", "")
		if !errors.Is(err, errStatusMoved) || attempt > 0 {
			break
		}
		if current, err = s.GetItem(ctx, itemID); err != nil {
			return board.Item{}, err
		}
		if current.Status == target {
			return current, nil
		}
	}
	if errors.Is(err, errStatusMoved) {
		err = fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	if err != nil {
		return board.Item{}, err
	}

	log.WithFields(log.Fields{"item_id": item.ID, "from": current.Status, "to": item.Status}).Info("item status changed")
	return item, nil
}

// move is the locked read-neighbours, assign, write sequence shared by
// Reorder and SetStatus. snapshot is the unlocked read used to pick locks.
func (s *Service) move(ctx context.Context, actor Session, snapshot board.Item, target board.Status, beforeID, afterID string) (board.Item, bool, error) {
	var (
		saved      board.Item
		rebalanced bool
	)
	locks := []board.Status{snapshot.Status, target}
	err := s.store.WithinBoardLock(ctx, locks, func(tx store.BoardTx) error {
		prev, err := tx.GetItemForUpdate(ctx, snapshot.ID)
		if err != nil {
			return notFoundAs(err, codeItemNotFound, "item not found", map[string]string{"itemId": snapshot.ID})
		}
		if prev.Status != snapshot.Status {
			return errStatusMoved
		}

		priority, didRebalance, err := s.place(ctx, tx, target, prev.ID, beforeID, afterID)
		if err != nil {
			return err
		}
		rebalanced = didRebalance

		next := prev
		next.Status = target
		next.Priority = priority
		if saved, err = tx.SaveItem(ctx, next); err != nil {
			return err
		}
		return tx.InsertEvents(ctx, s.recorder.Record(prev, saved, actor.UserName, s.now()))
	})
	if err != nil {
		return board.Item{}, false, err
	}

	s.afterWrite(ctx, saved, snapshot.Status, target)
	return saved, rebalanced, nil
}

// place computes the new priority for itemID in status. When the gap between
// the neighbours is exhausted the column is renumbered inside the same
// transaction and the neighbours are read again before a single retry.
func (s *Service) place(ctx context.Context, tx store.BoardTx, status board.Status, itemID, beforeID, afterID string) (int64, bool, error) {
	rebalanced := false
	for {
		above, below, err := s.neighbours(ctx, tx, status, itemID, beforeID, afterID)
		if err != nil {
			return 0, rebalanced, err
		}
		var columnMax int64
		if above == nil && below == nil {
			if columnMax, err = tx.MaxPriority(ctx, status, itemID); err != nil {
				return 0, rebalanced, err
			}
		}

		priority, err := s.assigner.Assign(priorityOf(above), priorityOf(below), columnMax)
		if err == nil {
			return priority, rebalanced, nil
		}
		if !errors.Is(err, board.ErrNeedsRebalance) {
			return 0, rebalanced, err
		}
		if rebalanced {
			return 0, rebalanced, invalidInput("neighbours are out of order", map[string]string{"beforeId": beforeID, "afterId": afterID})
		}

		moved, err := tx.Rebalance(ctx, status, s.assigner)
		if err != nil {
			return 0, rebalanced, fmt.Errorf("rebalance %s: %w", status, err)
		}
		rebalanced = true
		log.WithFields(log.Fields{"status": status, "moved": moved}).Info("column rebalanced to make room")
	}
}

// neighbours resolves the items directly above and below the target slot.
// A missing side is looked up from the given side so that one-sided
// placements only happen at the real ends of the column.
func (s *Service) neighbours(ctx context.Context, tx store.BoardTx, status board.Status, itemID, beforeID, afterID string) (above, below *board.Item, err error) {
	load := func(id string) (*board.Item, error) {
		item, err := tx.GetItem(ctx, id)
		if err != nil {
			return nil, notFoundAs(err, codeNeighborNotFound, "neighbour not found", map[string]string{"itemId": id})
		}
		if item.Status != status {
			return nil, errStatusMoved
		}
		return &item, nil
	}

	if beforeID != "" {
		if above, err = load(beforeID); err != nil {
			return nil, nil, err
		}
	}
	if afterID != "" {
		if below, err = load(afterID); err != nil {
			return nil, nil, err
		}
	}

	switch {
	case above != nil && below == nil:
		below, err = tx.NextBelow(ctx, *above, itemID)
	case below != nil && above == nil:
		above, err = tx.NextAbove(ctx, *below, itemID)
	}
	if err != nil {
		return nil, nil, err
	}
	return above, below, nil
}

func priorityOf(item *board.Item) *int64 {
	if item == nil {
		return nil
	}
	p := item.Priority
	return &p
}

// UpdateItem applies field edits and records one event per changed field.
func (s *Service) UpdateItem(ctx context.Context, actor Session, itemID string, input UpdateItemInput) (item board.Item, err error) {
	var due *time.Time
	if input.DueDate != nil {
		if due, err = parseDateField("dueDate", *input.DueDate); err != nil {
			return board.Item{}, err
		}
	}
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return board.Item{}, invalidInput("name cannot be blank", nil)
	}
	current, err := s.GetItem(ctx, itemID)
	if err != nil {
		return board.Item{}, err
	}

	changed := false
	err = s.store.WithinBoardLock(ctx, []board.Status{current.Status}, func(tx store.BoardTx) error {
		prev, err := tx.GetItemForUpdate(ctx, itemID)
		if err != nil {
			return notFoundAs(err, codeItemNotFound, "item not found", map[string]string{"itemId": itemID})
		}
		next := prev
		if input.Name != nil {
			next.Name = strings.TrimSpace(*input.Name)
		}
		if input.Description != nil {
			next.Description = strings.TrimSpace(*input.Description)
		}
		if input.ClientName != nil {
			next.ClientName = strings.TrimSpace(*input.ClientName)
		}
		if input.ContactName != nil {
			next.ContactName = strings.TrimSpace(*input.ContactName)
		}
		if input.Rejected != nil {
			next.Rejected = *input.Rejected
		}
		if input.DueDate != nil {
			next.DueDate = due
		}

		events := s.recorder.Record(prev, next, actor.UserName, s.now())
		if len(events) == 0 {
			item = prev
			return nil
		}
		if item, err = tx.SaveItem(ctx, next); err != nil {
			return err
		}
		changed = true
		return tx.InsertEvents(ctx, events)
	})
	if err != nil {
		return board.Item{}, err
	}

	if changed {
		s.afterWrite(ctx, item, item.Status)
	}
	return item, nil
}

// Rebalance renumbers one column with uniform spacing and reports how many
// items received a new priority.
func (s *Service) Rebalance(ctx context.Context, rawStatus string) (moved int, err error) {
	status, err := board.ParseStatus(rawStatus)
	if err != nil {
		return 0, domainError(http.StatusNotFound, codeStatusNotFound, "status not found", map[string]string{"status": rawStatus})
	}

	ctx, span := startSpan(ctx, "board.rebalance", status)
	defer func() { endSpan(span, err) }()

	err = s.store.WithinBoardLock(ctx, []board.Status{status}, func(tx store.BoardTx) error {
		var err error
		moved, err = tx.Rebalance(ctx, status, s.assigner)
		return err
	})
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Bool("board.rebalanced", true), attribute.Int("board.moved", moved))

	s.evict(ctx, status)
	log.WithFields(log.Fields{"status": status, "moved": moved}).Info("column rebalanced")
	return moved, nil
}

func (s *Service) ListEvents(ctx context.Context, itemID string) ([]board.Event, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, itemID)
}

func (s *Service) UploadAttachment(ctx context.Context, actor Session, itemID, fileName, contentType string, size int64, body io.Reader) (store.Attachment, error) {
	if s.attachments == nil {
		return store.Attachment{}, attachmentsDisabled()
	}
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return store.Attachment{}, err
	}
	fileName = attachments.SanitizeFileName(fileName)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := util.NewID("att")
	key := attachments.ObjectKey(itemID, id, fileName)
	written, err := s.attachments.Put(ctx, key, body, size, contentType)
	if err != nil {
		return store.Attachment{}, err
	}
	attachment, err := s.store.InsertAttachment(ctx, store.Attachment{
		ID:          id,
		ItemID:      itemID,
		ObjectKey:   key,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   written,
		UploadedBy:  actor.UserName,
	})
	if err != nil {
		if rmErr := s.attachments.Remove(ctx, key); rmErr != nil {
			log.WithError(rmErr).WithField("object_key", key).Warn("failed to remove orphaned attachment")
		}
		return store.Attachment{}, err
	}
	return attachment, nil
}

func (s *Service) ListAttachments(ctx context.Context, itemID string) ([]store.Attachment, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.store.ListAttachments(ctx, itemID)
}

// AttachmentURL returns a short-lived download link for one attachment.
func (s *Service) AttachmentURL(ctx context.Context, itemID, attachmentID string) (string, error) {
	if s.attachments == nil {
		return "", attachmentsDisabled()
	}
	attachment, err := s.store.GetAttachment(ctx, itemID, attachmentID)
	if err != nil {
		return "", notFoundAs(err, codeNotFound, "attachment not found", map[string]string{"attachmentId": attachmentID})
	}
	return s.attachments.PresignedURL(ctx, attachment.ObjectKey, attachment.FileName)
}

func attachmentsDisabled() *DomainError {
	return domainError(http.StatusServiceUnavailable, codeUnavailable, "attachments are not configured", nil)
}

// afterWrite runs once the transaction has committed. Cache and index
// failures are logged and never fail the request.
func (s *Service) afterWrite(ctx context.Context, item board.Item, statuses ...board.Status) {
	s.evict(ctx, statuses...)
	if s.search != nil {
		s.search.IndexItem(item)
	}
}

func (s *Service) evict(ctx context.Context, statuses ...board.Status) {
	if err := s.cache.EvictStatuses(ctx, statuses...); err != nil {
		log.WithError(err).WithField("statuses", statuses).Warn("board cache eviction failed")
	}
}

func startSpan(ctx context.Context, name string, status board.Status) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attribute.String("board.status", string(status))))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

const dateLayout = "2006-01-02"

// parseDateField accepts YYYY-MM-DD. Blank input means "no date".
func parseDateField(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, invalidInput("dates must use YYYY-MM-DD", map[string]string{"field": field, "value": raw})
	}
	return &t, nil
}

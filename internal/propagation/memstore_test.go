package propagation

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greenvalley/quoting/internal/apperr"
	"github.com/greenvalley/quoting/internal/model"
	"github.com/greenvalley/quoting/internal/repository"
)

// In-memory stores mirroring the Postgres repository semantics closely
// enough to drive the engine: keyset pagination ordered by quote ID,
// optimistic revision checks, task coalescing and lease-aware claiming.

type memProductStore struct {
	mu       sync.Mutex
	products map[uuid.UUID]model.Product
}

func newMemProductStore(products ...model.Product) *memProductStore {
	s := &memProductStore{products: make(map[uuid.UUID]model.Product)}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *memProductStore) Put(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *memProductStore) GetProduct(_ context.Context, id uuid.UUID) (model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return model.Product{}, apperr.ProductNotFoundErr
	}
	return p, nil
}

type memQuoteStore struct {
	mu     sync.Mutex
	quotes map[uuid.UUID]model.Quote

	// conflicts injects N synthetic revision conflicts for a quote.
	conflicts map[uuid.UUID]int
	// updateErr injects a write error for a quote.
	updateErr map[uuid.UUID]error
	// listFailures makes the first N list calls fail.
	listFailures int

	listCalls int
	maxPage   int
}

func newMemQuoteStore(quotes ...model.Quote) *memQuoteStore {
	s := &memQuoteStore{
		quotes:    make(map[uuid.UUID]model.Quote),
		conflicts: make(map[uuid.UUID]int),
		updateErr: make(map[uuid.UUID]error),
	}
	for _, q := range quotes {
		s.quotes[q.ID] = q
	}
	return s
}

func (s *memQuoteStore) GetQuote(_ context.Context, id uuid.UUID) (model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotes[id]
	if !ok {
		return model.Quote{}, apperr.QuoteNotFoundErr
	}
	q.LineItems = slices.Clone(q.LineItems)
	return q, nil
}

func (s *memQuoteStore) ListQuoteIDsByProduct(_ context.Context, productID uuid.UUID, afterID *uuid.UUID, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listCalls++
	if s.listFailures > 0 {
		s.listFailures--
		return nil, errors.New("connection reset")
	}

	var ids []uuid.UUID
	for id, q := range s.quotes {
		for _, line := range q.LineItems {
			if line.ProductID == productID {
				ids = append(ids, id)
				break
			}
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})

	if afterID != nil {
		after := *afterID
		ids = slices.DeleteFunc(ids, func(id uuid.UUID) bool {
			return bytes.Compare(id[:], after[:]) <= 0
		})
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	if len(ids) > s.maxPage {
		s.maxPage = len(ids)
	}
	return ids, nil
}

func (s *memQuoteStore) UpdateQuoteLines(_ context.Context, params repository.UpdateQuoteLinesParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateErr[params.ID]; err != nil {
		return false, err
	}
	if s.conflicts[params.ID] > 0 {
		s.conflicts[params.ID]--
		return false, nil
	}

	q, ok := s.quotes[params.ID]
	if !ok || q.Revision != params.ExpectedRevision {
		return false, nil
	}

	q.LineItems = slices.Clone(params.LineItems)
	q.TotalAmount = params.TotalAmount
	q.Revision++
	q.UpdatedAt = time.Now()
	s.quotes[params.ID] = q
	return true, nil
}

type memTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*model.PropagationTask
	order []uuid.UUID

	// guard, when set, backs stale-running detection the way the SQL
	// claim query joins propagation_leases.
	guard *MemoryGuard

	// beforeTargetVersion, when set, runs at the top of every
	// GetTaskTargetVersion call. Tests use it to coalesce a change into a
	// task that is already running.
	beforeTargetVersion func()
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[uuid.UUID]*model.PropagationTask)}
}

func (s *memTaskStore) CreateOrCoalesceTask(_ context.Context, productID uuid.UUID, targetVersion int64) (model.PropagationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		task := s.tasks[id]
		if task.ProductID == productID && !task.Status.Terminal() {
			if targetVersion > task.TargetVersion {
				task.TargetVersion = targetVersion
			}
			return *task, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.PropagationTask{}, err
	}
	task := &model.PropagationTask{
		ID:            id,
		ProductID:     productID,
		TargetVersion: targetVersion,
		Status:        model.TaskStatusPending,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	s.tasks[id] = task
	s.order = append(s.order, id)
	return *task, nil
}

func (s *memTaskStore) GetTask(_ context.Context, id uuid.UUID) (model.PropagationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return model.PropagationTask{}, apperr.TaskNotFoundErr
	}
	out := *task
	out.FailedQuoteIDs = slices.Clone(task.FailedQuoteIDs)
	return out, nil
}

func (s *memTaskStore) ClaimPendingTask(_ context.Context) (*model.PropagationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		task := s.tasks[id]
		if task.Status == model.TaskStatusPending {
			now := time.Now()
			task.Status = model.TaskStatusRunning
			task.StartedAt = &now
			out := *task
			out.FailedQuoteIDs = slices.Clone(task.FailedQuoteIDs)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memTaskStore) ClaimStaleRunningTask(_ context.Context) (*model.PropagationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		task := s.tasks[id]
		if task.Status != model.TaskStatusRunning {
			continue
		}
		if s.guard != nil && s.guard.Held(task.ProductID) {
			continue
		}
		out := *task
		out.FailedQuoteIDs = slices.Clone(task.FailedQuoteIDs)
		return &out, nil
	}
	return nil, nil
}

func (s *memTaskStore) GetTaskTargetVersion(_ context.Context, id uuid.UUID) (int64, error) {
	if s.beforeTargetVersion != nil {
		s.beforeTargetVersion()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return 0, apperr.TaskNotFoundErr
	}
	return task.TargetVersion, nil
}

func (s *memTaskStore) SaveCheckpoint(_ context.Context, params repository.SaveCheckpointParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[params.ID]
	if !ok {
		return apperr.TaskNotFoundErr
	}
	task.Cursor = params.Cursor
	task.Scanned = params.Scanned
	task.Updated = params.Updated
	task.Skipped = params.Skipped
	task.FailedQuoteIDs = slices.Clone(params.FailedQuoteIDs)
	task.UpdatedAt = time.Now()
	return nil
}

func (s *memTaskStore) MarkTaskCompleted(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return apperr.TaskNotFoundErr
	}
	now := time.Now()
	task.Status = model.TaskStatusCompleted
	task.CompletedAt = &now
	return nil
}

func (s *memTaskStore) MarkTaskFailed(_ context.Context, id uuid.UUID, taskErr string, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return apperr.TaskNotFoundErr
	}
	task.Status = model.TaskStatusFailed
	task.Error = &taskErr
	task.RetryCount = retryCount
	return nil
}

func (s *memTaskStore) ResumeTask(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return apperr.TaskNotFoundErr
	}
	if task.Status != model.TaskStatusFailed {
		return apperr.TaskNotResumableErr
	}
	task.Status = model.TaskStatusPending
	task.Error = nil
	return nil
}

var (
	_ ProductStore = (*memProductStore)(nil)
	_ QuoteStore   = (*memQuoteStore)(nil)
	_ TaskStore    = (*memTaskStore)(nil)
)

// quoteWithLines builds a draft quote around the given lines. UUIDv7 IDs are
// time-ordered, so quotes built in sequence page in creation order.
func quoteWithLines(lines ...model.LineItem) model.Quote {
	return model.Quote{
		ID:            uuid.Must(uuid.NewV7()),
		CustomerName:  "Dana Whitfield",
		CustomerEmail: "dana@example.com",
		Status:        model.QuoteStatusDraft,
		LineItems:     lines,
		TotalAmount:   SumLineTotals(lines),
		Revision:      1,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

func sortedQuoteIDs(quotes []model.Quote) []uuid.UUID {
	ids := make([]uuid.UUID, len(quotes))
	for i, q := range quotes {
		ids[i] = q.ID
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return ids
}

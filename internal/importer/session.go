package importer

// session.go drives the operator-in-the-loop workflow:
//
//	upload -> mapping -> review -> importing -> complete
//
// Transitions are operator-driven except importing -> complete, which
// happens automatically once every batch has been attempted. All mutable
// state is confined to one Session; the Manager only tracks sessions.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBatchSize is how many records go to the store per BulkInsert call.
const DefaultBatchSize = 50

// MaxResultErrors bounds the raw error messages kept on an ImportResult.
var MaxResultErrors = 20

// ImportTimeout is the maximum duration for the batch submission phase.
var ImportTimeout = 10 * time.Minute

// SessionRetention is how long a completed session stays queryable.
var SessionRetention = 30 * time.Minute

// State-machine guard failures. These are rejected synchronously with no
// state change.
var (
	ErrSessionNotFound  = errors.New("import session not found")
	ErrWrongStage       = errors.New("operation not valid in current stage")
	ErrNoRowsSelected   = errors.New("no rows selected for import")
	ErrColumnClaimed    = errors.New("column already mapped to another field")
	ErrUnknownField     = errors.New("unknown field")
	ErrColumnOutOfRange = errors.New("column index out of range")
)

// Session is one import workflow instance. All methods are safe for
// concurrent use, though the workflow itself has a single operator.
type Session struct {
	ID       string
	FileName string

	store     Store
	batchSize int

	mu         sync.Mutex
	stage      Stage
	table      *RawTable
	mappings   []ColumnMapping
	identities []Identity
	candidates []ParsedCandidate
	progress   Progress
	result     *ImportResult
	cancelCh   chan struct{}
	cancelled  bool

	done       chan struct{}
	listenerMu sync.Mutex
	listeners  []chan Progress
}

// Manager owns the live import sessions, bounding how many run at once.
type Manager struct {
	store     Store
	batchSize int
	limiter   *SessionLimiter

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager over the given store.
// batchSize <= 0 falls back to DefaultBatchSize.
func NewManager(store Store, batchSize int, limiter *SessionLimiter) *Manager {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if limiter == nil {
		limiter = NewSessionLimiter(0, 0)
	}
	return &Manager{
		store:     store,
		batchSize: batchSize,
		limiter:   limiter,
		sessions:  make(map[string]*Session),
	}
}

// Limiter exposes the session limiter for shutdown draining.
func (m *Manager) Limiter() *SessionLimiter {
	return m.limiter
}

// Start parses an uploaded file, snapshots the existing-identity index,
// infers column mappings, and returns the new session in the mapping stage.
func (m *Manager) Start(ctx context.Context, fileName string, fileData []byte) (*Session, error) {
	if err := m.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	table, err := ParseTable(fileData)
	if err != nil {
		m.limiter.Release()
		return nil, err
	}

	identities, err := m.store.FetchAllIdentities(ctx)
	if err != nil {
		m.limiter.Release()
		return nil, fmt.Errorf("fetch existing identities: %w", err)
	}

	s := &Session{
		ID:         uuid.New().String(),
		FileName:   fileName,
		store:      m.store,
		batchSize:  m.batchSize,
		stage:      StageMapping,
		table:      table,
		mappings:   InferColumns(table.Headers, table.Rows),
		identities: identities,
		done:       make(chan struct{}),
	}
	s.progress = Progress{SessionID: s.ID, Stage: StageMapping}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s, nil
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// StartImport begins the batch phase for a session and wires its terminal
// state back to the manager so the limiter slot is released.
func (m *Manager) StartImport(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.StartImport(m.retire)
}

// Discard abandons a session that never reached the importing stage,
// releasing its limiter slot immediately.
func (m *Manager) Discard(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == StageImporting {
		return ErrWrongStage
	}
	if s.stage != StageComplete {
		m.limiter.Release()
	}
	return nil
}

// retire releases the session's limiter slot and schedules its removal.
func (m *Manager) retire(s *Session) {
	m.limiter.Release()
	time.AfterFunc(SessionRetention, func() {
		m.mu.Lock()
		delete(m.sessions, s.ID)
		m.mu.Unlock()
	})
}

// Stage returns the session's current workflow stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Headers returns the uploaded table's header row.
func (s *Session) Headers() []string {
	return s.table.Headers
}

// RowCount returns the number of data rows in the uploaded table.
func (s *Session) RowCount() int {
	return len(s.table.Rows)
}

// Mappings returns a copy of the current column mappings.
func (s *Session) Mappings() []ColumnMapping {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ColumnMapping, len(s.mappings))
	copy(out, s.mappings)
	return out
}

// SetMapping assigns a column to a field during the mapping stage.
// A column already claimed by another field is rejected rather than
// silently stolen; clear the other mapping first.
func (s *Session) SetMapping(field Field, column int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageMapping {
		return ErrWrongStage
	}
	if column < 0 || column >= len(s.table.Headers) {
		return ErrColumnOutOfRange
	}

	target := -1
	for i := range s.mappings {
		if s.mappings[i].Field == field {
			target = i
			continue
		}
		if s.mappings[i].Column == column {
			return fmt.Errorf("%w: %s", ErrColumnClaimed, s.mappings[i].Field)
		}
	}
	if target < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	s.mappings[target].Column = column
	s.mappings[target].Confidence = 100 // operator-confirmed
	return nil
}

// ClearMapping unmaps a field during the mapping stage.
func (s *Session) ClearMapping(field Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageMapping {
		return ErrWrongStage
	}
	for i := range s.mappings {
		if s.mappings[i].Field == field {
			s.mappings[i].Column = -1
			s.mappings[i].Confidence = 0
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownField, field)
}

// AdvanceToReview freezes the mappings and parses every row in file order.
func (s *Session) AdvanceToReview() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageMapping {
		return ErrWrongStage
	}

	resolver := NewResolver(s.identities)
	s.candidates = make([]ParsedCandidate, 0, len(s.table.Rows))
	for _, row := range s.table.Rows {
		s.candidates = append(s.candidates, parseRow(uuid.New().String(), row, s.mappings, resolver, s.FileName))
	}

	s.stage = StageReview
	s.progress.Stage = StageReview
	return nil
}

// Candidates returns a copy of the parsed candidate list.
func (s *Session) Candidates() []ParsedCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ParsedCandidate, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// SetSelected toggles one candidate's selection during review.
func (s *Session) SetSelected(id string, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageReview {
		return ErrWrongStage
	}
	for i := range s.candidates {
		if s.candidates[i].ID == id {
			s.candidates[i].Selected = selected
			return nil
		}
	}
	return fmt.Errorf("candidate not found: %s", id)
}

// ApplyBulkSelection applies a selection shortcut across all candidates.
func (s *Session) ApplyBulkSelection(action BulkAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageReview {
		return ErrWrongStage
	}
	for i := range s.candidates {
		switch action {
		case SelectAll:
			s.candidates[i].Selected = true
		case SelectNone:
			s.candidates[i].Selected = false
		case SelectClean:
			s.candidates[i].Selected = len(s.candidates[i].Errors) == 0 &&
				s.candidates[i].DuplicateStatus == DupNone
		default:
			return fmt.Errorf("unknown bulk action: %s", action)
		}
	}
	return nil
}

// StartImport begins the batch submission phase in the background.
// It is rejected if no rows are selected. onRetire, when non-nil, runs
// once the session reaches its terminal state (the Manager uses it to
// release the limiter slot).
func (s *Session) StartImport(onRetire func(*Session)) error {
	s.mu.Lock()

	if s.stage != StageReview {
		s.mu.Unlock()
		return ErrWrongStage
	}

	var submit []ParsedCandidate
	skippedDuplicates := 0
	for _, c := range s.candidates {
		if !c.Selected {
			continue
		}
		if c.DuplicateStatus != DupNone {
			skippedDuplicates++
			continue
		}
		submit = append(submit, c)
	}

	if len(submit) == 0 && skippedDuplicates == 0 {
		s.mu.Unlock()
		return ErrNoRowsSelected
	}

	s.cancelCh = make(chan struct{})
	s.stage = StageImporting
	s.progress = Progress{
		SessionID: s.ID,
		Stage:     StageImporting,
		Processed: 0,
		Total:     len(submit),
	}
	cancelCh := s.cancelCh
	s.mu.Unlock()

	// The import context carries only the overall timeout. Cancellation
	// is signalled separately so an in-flight batch is never aborted.
	importCtx, cancel := context.WithTimeout(context.Background(), ImportTimeout)

	go func() {
		defer cancel()
		s.runImport(importCtx, cancelCh, submit, skippedDuplicates, onRetire)
	}()
	return nil
}

// runImport submits batches sequentially, one in flight at a time, and
// aggregates the outcome. A failed batch never halts later batches.
// Cancellation is checked only between batches: the batch in flight
// completes and its counts are kept.
func (s *Session) runImport(ctx context.Context, cancelCh <-chan struct{}, submit []ParsedCandidate, skippedDuplicates int, onRetire func(*Session)) {
	defer func() {
		close(s.done)
		s.closeListeners()
		if onRetire != nil {
			onRetire(s)
		}
	}()

	result := &ImportResult{DuplicateSkippedCount: skippedDuplicates}

	processed := 0
	for start := 0; start < len(submit); start += s.batchSize {
		stop := false
		select {
		case <-cancelCh:
			stop = true
		default:
			if ctx.Err() != nil {
				stop = true
			}
		}
		if stop {
			result.Cancelled = true
			// Rows never submitted still count against the invariant:
			// every submitted row is success or failure, the remainder
			// were simply not attempted.
			break
		}

		end := start + s.batchSize
		if end > len(submit) {
			end = len(submit)
		}
		batch := submit[start:end]

		records := make([]CandidateRecord, len(batch))
		for i, c := range batch {
			records[i] = c.Record()
		}

		inserted, err := s.store.BulkInsert(ctx, records)
		if err != nil {
			result.FailedCount += len(batch)
			if len(result.Errors) < MaxResultErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("batch %d-%d: %v", start+1, end, err))
			}
		} else {
			// The store may report partial acceptance; the shortfall is
			// accepted silently rather than counted as failure.
			result.SuccessCount += inserted
		}

		processed = end
		s.notifyProgress(Progress{
			SessionID: s.ID,
			Stage:     StageImporting,
			Processed: processed,
			Total:     len(submit),
		})
	}

	s.mu.Lock()
	s.stage = StageComplete
	s.progress = Progress{
		SessionID: s.ID,
		Stage:     StageComplete,
		Processed: processed,
		Total:     len(submit),
	}
	s.result = result
	s.mu.Unlock()
}

// Cancel stops the import after the in-flight batch completes. Batches
// already dispatched are allowed to finish; accumulated counts are
// preserved in the terminal result.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != StageImporting || s.cancelCh == nil {
		return ErrWrongStage
	}
	if !s.cancelled {
		s.cancelled = true
		close(s.cancelCh)
	}
	return nil
}

// Progress returns the current progress snapshot without blocking.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Result blocks until the import completes and returns the terminal result.
func (s *Session) Result() *ImportResult {
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Done is closed when the session reaches its terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Subscribe returns a channel receiving progress updates. The channel is
// closed when the import completes; subscribing to an already-terminal
// session returns a closed channel. Slow listeners miss updates rather
// than blocking the pipeline.
func (s *Session) Subscribe() <-chan Progress {
	ch := make(chan Progress, 10)

	s.listenerMu.Lock()
	select {
	case <-s.done:
		s.listenerMu.Unlock()
		close(ch)
		return ch
	default:
	}
	s.listeners = append(s.listeners, ch)
	s.listenerMu.Unlock()

	select {
	case ch <- s.Progress():
	default:
	}

	return ch
}

func (s *Session) notifyProgress(p Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()

	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	for _, ch := range s.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

func (s *Session) closeListeners() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	for _, ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
}

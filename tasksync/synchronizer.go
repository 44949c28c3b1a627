// Package tasksync owns a user's in-memory task collection and keeps it in
// step with the remote task store using optimistic updates.
package tasksync

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
	"taskmaster/parser"
)

// ProvisionalPrefix marks IDs that have not been confirmed by the remote store.
const ProvisionalPrefix = "tmp-"

var (
	// ErrTaskNotFound is returned for IDs that are not in the collection.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskPending is returned when another operation for the same task is
	// still waiting on the remote store.
	ErrTaskPending = errors.New("task has a pending operation")
	// ErrInvalidTitle is returned when an update would leave a task untitled.
	ErrInvalidTitle = errors.New("title must not be blank")
)

// Remote is the persistent task collection keyed by user identity.
type Remote interface {
	List(ctx context.Context, userID string) ([]domain.TaskRow, error)
	// Insert stores row and returns it with the remote-assigned ID.
	Insert(ctx context.Context, row domain.TaskRow) (domain.TaskRow, error)
	Update(ctx context.Context, userID, id string, upd domain.RowUpdate) error
	Delete(ctx context.Context, userID, id string) error
}

// Rewarder is notified when a task transitions to completed.
type Rewarder interface {
	Award(ctx context.Context, userID string, priority domain.Priority)
}

type opKind string

const (
	opCreate opKind = "provisional"
	opToggle opKind = "toggling"
	opUpdate opKind = "updating"
	opDelete opKind = "deleting"
)

// Synchronizer is the single writer of one user's task collection. Remote
// calls are made without holding the lock so reads and mutations of other
// tasks proceed while a request is outstanding.
type Synchronizer struct {
	userID   string
	remote   Remote
	rewarder Rewarder
	log      *log.Logger
	now      func() time.Time
	newID    func() string

	loadMu sync.Mutex
	loaded atomic.Bool

	mu      sync.RWMutex
	tasks   []domain.Task
	pending map[string]opKind
}

// Option customises a Synchronizer.
type Option func(*Synchronizer)

// WithRewarder sets the collaborator credited on task completion.
func WithRewarder(r Rewarder) Option {
	return func(s *Synchronizer) { s.rewarder = r }
}

// WithClock overrides the time source used for parsing and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithIDGenerator overrides provisional ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Synchronizer) { s.newID = fn }
}

// New creates a Synchronizer for userID. The collection starts empty; call
// Load to populate it.
func New(userID string, remote Remote, logger *log.Logger, opts ...Option) *Synchronizer {
	if remote == nil {
		panic("tasksync.New: remote is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Synchronizer{
		userID:  userID,
		remote:  remote,
		log:     logger,
		now:     time.Now,
		newID:   func() string { return ProvisionalPrefix + uuid.NewString() },
		tasks:   []domain.Task{},
		pending: map[string]opKind{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UserID returns the identity this collection belongs to.
func (s *Synchronizer) UserID() string { return s.userID }

// Load replaces the collection with the remote rows, newest first. On failure
// the collection is left empty. Tasks with an operation still in flight keep
// their local state.
func (s *Synchronizer) Load(ctx context.Context) {
	_ = s.load(ctx)
}

func (s *Synchronizer) load(ctx context.Context) error {
	rows, err := s.remote.List(ctx, s.userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	provisional := make([]domain.Task, 0)
	inFlight := map[string]domain.Task{}
	for _, t := range s.tasks {
		switch s.pending[t.ID] {
		case opCreate:
			provisional = append(provisional, t)
		case opToggle, opUpdate:
			inFlight[t.ID] = t
		}
	}

	if err != nil {
		s.entry("load", "").WithError(err).Error("load tasks failed")
		s.tasks = provisional
		return err
	}

	loaded := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		if s.pending[r.ID] == opDelete {
			continue
		}
		if local, ok := inFlight[r.ID]; ok {
			loaded = append(loaded, local)
			continue
		}
		loaded = append(loaded, domain.TaskFromRow(r))
	}
	sort.SliceStable(loaded, func(i, j int) bool { return loaded[i].CreatedAt.After(loaded[j].CreatedAt) })
	s.tasks = append(provisional, loaded...)
	s.loaded.Store(true)
	return nil
}

// EnsureLoaded runs Load until one succeeds. The load is detached from ctx
// cancellation so an abandoned first request does not leave the collection
// empty.
func (s *Synchronizer) EnsureLoaded(ctx context.Context) {
	if s.loaded.Load() {
		return
	}
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.loaded.Load() {
		return
	}
	_ = s.load(context.WithoutCancel(ctx))
}

// Create parses raw into a task and makes it visible immediately under a
// provisional ID. When the remote insert succeeds the provisional ID is
// replaced in place; when it fails the task is removed. The returned bool
// reports whether the task was committed.
func (s *Synchronizer) Create(ctx context.Context, raw string) (domain.Task, bool) {
	if strings.TrimSpace(raw) == "" {
		return domain.Task{}, false
	}
	now := s.now()
	p := parser.Parse(raw, now)
	task := domain.Task{
		ID:        s.newID(),
		Title:     p.Title,
		CreatedAt: now,
		DueDate:   p.DueDate,
		Priority:  p.Priority,
		Tags:      p.Tags,
		Subtasks:  []domain.Subtask{},
	}

	s.mu.Lock()
	s.tasks = append([]domain.Task{task.Clone()}, s.tasks...)
	s.pending[task.ID] = opCreate
	s.mu.Unlock()

	row := domain.RowFromTask(s.userID, task)
	row.ID = ""
	stored, err := s.remote.Insert(ctx, row)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, task.ID)

	if err != nil {
		s.removeLocked(task.ID)
		s.entry("create", task.ID).WithError(err).Error("create task failed, rolled back")
		return task, false
	}

	idx := s.indexLocked(task.ID)
	if idx < 0 {
		// Dropped locally while in flight; the remote row is authoritative.
		committed := domain.TaskFromRow(stored)
		s.tasks = append([]domain.Task{committed}, s.tasks...)
		return committed.Clone(), true
	}
	t := &s.tasks[idx]
	t.ID = stored.ID
	if !stored.CreatedAt.IsZero() {
		t.CreatedAt = stored.CreatedAt
	}
	t.DueDate = nil
	if stored.DueDate != nil {
		d := *stored.DueDate
		t.DueDate = &d
	}
	s.entry("create", t.ID).Debug("task committed")
	return t.Clone(), true
}

// Toggle flips the completion flag of id. A successful false→true transition
// credits the rewarder once; a failed remote update reverts the flag.
func (s *Synchronizer) Toggle(ctx context.Context, id string) (domain.Task, error) {
	s.mu.Lock()
	idx, err := s.beginLocked(id, opToggle)
	if err != nil {
		s.mu.Unlock()
		return domain.Task{}, err
	}
	was := s.tasks[idx].Completed
	s.tasks[idx].Completed = !was
	priority := s.tasks[idx].Priority
	s.mu.Unlock()

	completed := !was
	err = s.remote.Update(ctx, s.userID, id, domain.RowUpdate{IsCompleted: &completed})

	s.mu.Lock()
	delete(s.pending, id)
	idx = s.indexLocked(id)
	if err != nil {
		if idx >= 0 {
			s.tasks[idx].Completed = was
		}
		s.entry("toggle", id).WithError(err).Error("toggle task failed, reverted")
	}
	var out domain.Task
	if idx >= 0 {
		out = s.tasks[idx].Clone()
	}
	s.mu.Unlock()

	if err == nil && !was && s.rewarder != nil {
		s.rewarder.Award(context.WithoutCancel(ctx), s.userID, priority)
	}
	if idx < 0 {
		return domain.Task{}, ErrTaskNotFound
	}
	return out, nil
}

// Update merges fields into id. Remote failures trigger a full Load instead
// of a field level rollback. A blank title is rejected with ErrInvalidTitle.
func (s *Synchronizer) Update(ctx context.Context, id string, fields domain.TaskFields) (domain.Task, error) {
	if fields.Title != nil && strings.TrimSpace(*fields.Title) == "" {
		return domain.Task{}, ErrInvalidTitle
	}
	s.mu.Lock()
	idx, err := s.beginLocked(id, opUpdate)
	if err != nil {
		s.mu.Unlock()
		return domain.Task{}, err
	}
	if fields.Empty() {
		delete(s.pending, id)
		out := s.tasks[idx].Clone()
		s.mu.Unlock()
		return out, nil
	}
	fields.Apply(&s.tasks[idx])
	s.mu.Unlock()

	err = s.remote.Update(ctx, s.userID, id, domain.RowUpdateFromFields(fields))

	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()

	if err != nil {
		s.entry("update", id).WithError(err).Error("update task failed, reloading")
		s.Load(ctx)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx = s.indexLocked(id); idx < 0 {
		return domain.Task{}, ErrTaskNotFound
	}
	return s.tasks[idx].Clone(), nil
}

// Delete removes id immediately. If the remote delete fails the removed
// record is appended back to the collection.
func (s *Synchronizer) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	idx, err := s.beginLocked(id, opDelete)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	removed := s.tasks[idx]
	s.tasks = append(s.tasks[:idx:idx], s.tasks[idx+1:]...)
	s.mu.Unlock()

	err = s.remote.Delete(ctx, s.userID, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	if err != nil {
		if s.indexLocked(id) < 0 {
			s.tasks = append(s.tasks, removed)
		}
		s.entry("delete", id).WithError(err).Error("delete task failed, restored")
	}
	return nil
}

// Pending reports whether id has an operation waiting on the remote store.
func (s *Synchronizer) Pending(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pending[id]
	return ok
}

func (s *Synchronizer) beginLocked(id string, op opKind) (int, error) {
	if _, busy := s.pending[id]; busy {
		return -1, ErrTaskPending
	}
	idx := s.indexLocked(id)
	if idx < 0 {
		return -1, ErrTaskNotFound
	}
	s.pending[id] = op
	return idx, nil
}

func (s *Synchronizer) indexLocked(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) removeLocked(id string) {
	if idx := s.indexLocked(id); idx >= 0 {
		s.tasks = append(s.tasks[:idx:idx], s.tasks[idx+1:]...)
	}
}

func (s *Synchronizer) entry(op, task string) *log.Entry {
	fields := log.Fields{"user": s.userID, "op": op}
	if task != "" {
		fields["task"] = task
	}
	return s.log.WithFields(fields)
}

package tasksync

import (
	"math"
	"strings"

	"taskmaster/domain"
)

// Tasks returns a copy of the whole collection in display order.
func (s *Synchronizer) Tasks() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, len(s.tasks))
	for i := range s.tasks {
		out[i] = s.tasks[i].Clone()
	}
	return out
}

// Get returns a copy of the task with id.
func (s *Synchronizer) Get(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.tasks[idx].Clone(), true
	}
	return domain.Task{}, false
}

// Filtered selects tasks by completion state and a case-insensitive title
// substring. Unknown modes behave like FilterAll.
func (s *Synchronizer) Filtered(mode domain.FilterMode, query string) []domain.Task {
	q := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, 0, len(s.tasks))
	for i := range s.tasks {
		t := &s.tasks[i]
		switch mode {
		case domain.FilterActive:
			if t.Completed {
				continue
			}
		case domain.FilterCompleted:
			if !t.Completed {
				continue
			}
		}
		if q != "" && !strings.Contains(strings.ToLower(t.Title), q) {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

// Stats aggregates the collection.
func (s *Synchronizer) Stats() domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatsOf(s.tasks)
}

// StatsOf computes totals and the rounded completion percentage of tasks.
func StatsOf(tasks []domain.Task) domain.Stats {
	st := domain.Stats{Total: len(tasks)}
	for i := range tasks {
		if tasks[i].Completed {
			st.Completed++
		}
	}
	if st.Total > 0 {
		st.CompletionRate = int(math.Round(100 * float64(st.Completed) / float64(st.Total)))
	}
	return st
}

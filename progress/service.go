package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

const maxSaveAttempts = 5

// StatsStore persists progression records with optimistic concurrency.
type StatsStore interface {
	// GetStats returns nil when the user has no record yet.
	GetStats(ctx context.Context, userID string) (*domain.UserStats, error)
	// SaveStats fails with domain.ErrConcurrencyConflict when the record
	// changed since it was read.
	SaveStats(ctx context.Context, st domain.UserStats) error
}

// Publisher announces changed progression records.
type Publisher interface {
	Publish(ctx context.Context, st domain.UserStats) error
}

// Service applies task completions to progression records.
type Service struct {
	store StatsStore
	pub   Publisher
	log   *log.Logger
}

// NewService creates a Service. pub may be nil.
func NewService(store StatsStore, pub Publisher, logger *log.Logger) *Service {
	if store == nil {
		panic("progress.NewService: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{store: store, pub: pub, log: logger}
}

// Stats returns the user's record, or an empty one when none exists.
func (s *Service) Stats(ctx context.Context, userID string) (domain.UserStats, error) {
	st, err := s.store.GetStats(ctx, userID)
	if err != nil {
		return domain.UserStats{}, err
	}
	if st == nil {
		return domain.UserStats{UserID: userID, Achievements: []string{}}, nil
	}
	return *st, nil
}

// Award credits one completed task of priority p at time at and returns the
// updated record.
func (s *Service) Award(ctx context.Context, userID string, p domain.Priority, at time.Time) (domain.UserStats, error) {
	for attempt := 1; ; attempt++ {
		st, err := s.Stats(ctx, userID)
		if err != nil {
			return domain.UserStats{}, err
		}
		next := apply(st, p, at)
		err = s.store.SaveStats(ctx, next)
		if err == nil {
			s.publish(ctx, next)
			return next, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return domain.UserStats{}, err
		}
		if attempt >= maxSaveAttempts {
			return domain.UserStats{}, fmt.Errorf("award for %s: %w", userID, err)
		}
		s.log.WithFields(log.Fields{"user": userID, "attempt": attempt}).Debug("stats changed concurrently, retrying")
	}
}

// Submit applies an award command.
func (s *Service) Submit(ctx context.Context, cmd domain.AwardCommand) error {
	at := time.Now()
	if cmd.Timestamp > 0 {
		at = time.UnixMilli(cmd.Timestamp)
	}
	_, err := s.Award(ctx, cmd.UserID, cmd.Priority, at)
	return err
}

func (s *Service) publish(ctx context.Context, st domain.UserStats) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, st); err != nil {
		s.log.WithFields(log.Fields{"user": st.UserID, "error": err}).Error("unable to publish progress update")
	}
}

// apply returns st advanced by one completion. Streaks are counted in UTC
// calendar days.
func apply(st domain.UserStats, p domain.Priority, at time.Time) domain.UserStats {
	at = at.UTC()
	next := st
	next.Achievements = append([]string{}, st.Achievements...)
	next.TotalXP += XPFor(p)
	next.TasksCompleted++

	today := dayOf(at)
	yesterday := dayOf(at.AddDate(0, 0, -1))
	last := ""
	if st.LastActivity != nil {
		last = dayOf(st.LastActivity.UTC())
	}
	switch {
	case last == yesterday:
		next.CurrentStreak++
	case last != today:
		next.CurrentStreak = 1
	case next.CurrentStreak == 0:
		next.CurrentStreak = 1
	}
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	next.LastActivity = &at
	next.Achievements = append(next.Achievements, unlocked(next.TasksCompleted, next.CurrentStreak, next.Achievements)...)
	return next
}

func dayOf(t time.Time) string {
	return t.Format("2006-01-02")
}

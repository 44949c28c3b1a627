package suggest

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

// DefaultCoaching is returned when no remote tip is available.
const DefaultCoaching = "Keep going! Consistency is key to productivity."

// Suggestions bundles everything offered for a single task.
type Suggestions struct {
	Subtasks        []string        `json:"subtasks"`
	Priority        domain.Priority `json:"priority"`
	Tags            []string        `json:"tags"`
	Insight         string          `json:"insight"`
	EstimateMinutes int             `json:"estimateMinutes,omitempty"`
	Source          string          `json:"source"`
}

// Advisor answers suggestion requests from the remote model when one is
// configured and from keyword rules otherwise, or when the model fails.
type Advisor struct {
	remote *Remote
	log    *log.Logger
	now    func() time.Time
}

// NewAdvisor creates an Advisor. gen may be nil to use rules only.
func NewAdvisor(gen Generator, logger *log.Logger) *Advisor {
	if logger == nil {
		logger = log.StandardLogger()
	}
	a := &Advisor{log: logger, now: time.Now}
	if gen != nil {
		a.remote = NewRemote(gen)
	}
	return a
}

// Remote reports whether a model is configured.
func (a *Advisor) Remote() bool { return a.remote != nil }

// Subtasks breaks title down into steps, or returns nil.
func (a *Advisor) Subtasks(ctx context.Context, title string) []string {
	if a.remote != nil {
		steps, err := a.remote.Subtasks(ctx, title)
		if err == nil {
			return steps
		}
		a.fallback("subtasks", err)
	}
	return Subtasks(title)
}

// Priority suggests a priority for t.
func (a *Advisor) Priority(ctx context.Context, t domain.Task) domain.Priority {
	if a.remote != nil {
		p, err := a.remote.Priority(ctx, t.Title)
		if err == nil {
			return p
		}
		a.fallback("priority", err)
	}
	return SuggestPriority(t, a.now())
}

// Tags suggests category tags for title.
func (a *Advisor) Tags(ctx context.Context, title string) []string {
	if a.remote != nil {
		tags, err := a.remote.Tags(ctx, title)
		if err == nil {
			return tags
		}
		a.fallback("tags", err)
	}
	return []string{}
}

// Insight returns a one-line remark about title.
func (a *Advisor) Insight(ctx context.Context, title string) string {
	if a.remote != nil {
		text, err := a.remote.Insight(ctx, title)
		if err == nil {
			return text
		}
		a.fallback("insight", err)
	}
	return ruleInsight(title)
}

// FollowUps suggests next tasks from the most recent ones. Without a model
// there are none.
func (a *Advisor) FollowUps(ctx context.Context, recent []domain.Task) []string {
	if a.remote != nil && len(recent) > 0 {
		ideas, err := a.remote.FollowUps(ctx, recent)
		if err == nil {
			return ideas
		}
		a.fallback("follow-ups", err)
	}
	return []string{}
}

// Coaching returns a short tip for the collection.
func (a *Advisor) Coaching(ctx context.Context, tasks []domain.Task) string {
	if a.remote != nil {
		text, err := a.remote.Coaching(ctx, CountersOf(tasks, a.now()))
		if err == nil {
			return text
		}
		a.fallback("coaching", err)
	}
	return DefaultCoaching
}

// EstimateMinutes guesses a duration for title; 0 means unknown.
func (a *Advisor) EstimateMinutes(ctx context.Context, title string) int {
	if a.remote == nil {
		return 0
	}
	n, err := a.remote.EstimateMinutes(ctx, title)
	if err != nil {
		a.fallback("estimate", err)
		return 0
	}
	return n
}

// For gathers suggestions for t.
func (a *Advisor) For(ctx context.Context, t domain.Task) Suggestions {
	source := "rules"
	if a.remote != nil {
		source = "model"
	}
	return Suggestions{
		Subtasks:        a.Subtasks(ctx, t.Title),
		Priority:        a.Priority(ctx, t),
		Tags:            a.Tags(ctx, t.Title),
		Insight:         a.Insight(ctx, t.Title),
		EstimateMinutes: a.EstimateMinutes(ctx, t.Title),
		Source:          source,
	}
}

func (a *Advisor) fallback(kind string, err error) {
	a.log.WithFields(log.Fields{"suggestion": kind, "error": err}).Warn("model unavailable, using rules")
}

func ruleInsight(title string) string {
	an := Analyze(title)
	switch {
	case an.IsLarge || an.IsResearch:
		return "This looks like a multi-step project. Consider breaking it down."
	case len(strings.Fields(title)) < 3:
		return "Try making this more specific and actionable."
	default:
		return "Well-defined task! Clear action and outcome."
	}
}

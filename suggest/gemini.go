package suggest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	generativelanguage "google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/option"

	"taskmaster/domain"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty model response")

// Generator turns a prompt into model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Gemini calls the Generative Language API.
type Gemini struct {
	svc   *generativelanguage.Service
	model string
}

// NewGemini creates a Gemini client for model using apiKey. Extra options
// are passed to the underlying service.
func NewGemini(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Gemini, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := generativelanguage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create generative language service: %w", err)
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	return &Gemini{svc: svc, model: model}, nil
}

// Generate sends prompt as a single user turn and returns the first
// candidate's text, trimmed.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	req := &generativelanguage.GenerateContentRequest{
		Contents: []*generativelanguage.Content{{
			Role:  "user",
			Parts: []*generativelanguage.Part{{Text: prompt}},
		}},
	}
	resp, err := g.svc.Models.GenerateContent(g.model, req).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Remote builds prompts for a Generator and parses its answers.
type Remote struct {
	gen Generator
}

// NewRemote wraps gen.
func NewRemote(gen Generator) *Remote {
	return &Remote{gen: gen}
}

// Subtasks asks for up to five concrete steps.
func (r *Remote) Subtasks(ctx context.Context, title string) ([]string, error) {
	prompt := fmt.Sprintf(`Break down this task into 3-5 specific, actionable subtasks: %q

Rules:
- Each subtask should be a single, concrete action
- Start each subtask with an action verb
- Keep subtasks short (5-8 words max)
- Make them sequential if order matters
- Return ONLY the subtasks, one per line, no numbering or extra text

Example for "Plan vacation to Europe":
Research destinations and create shortlist
Book flights and reserve hotels
Create daily itinerary with activities
Prepare travel documents and insurance
Pack luggage and essentials

Now generate subtasks for: %q`, title, title)

	text, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	lines := splitNonEmpty(text, "\n", 5)
	if len(lines) == 0 {
		return nil, ErrEmptyResponse
	}
	return lines, nil
}

// Priority asks for a single priority word. Unrecognised answers become
// medium.
func (r *Remote) Priority(ctx context.Context, title string) (domain.Priority, error) {
	prompt := fmt.Sprintf(`Analyze this task and suggest a priority level: %q

Consider:
- Urgency (time-sensitive words like "urgent", "ASAP", "today", "deadline")
- Importance (critical tasks, health, safety, legal matters)
- Impact (affects others, business-critical, dependencies)
- Default to "medium" if unclear

Return ONLY one word: urgent, high, medium, or low

Task: %q
Priority:`, title, title)

	text, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return domain.ParsePriority(strings.ToLower(strings.TrimSpace(text))), nil
}

// Insight asks for a one-line productivity remark about title.
func (r *Remote) Insight(ctx context.Context, title string) (string, error) {
	prompt := fmt.Sprintf(`Analyze this task and provide a brief productivity insight: %q

Provide ONE of these insights (choose the most relevant):
1. If it's complex: "This looks like a multi-step project. Consider breaking it down."
2. If it's time-sensitive: "This appears time-sensitive. Set a specific deadline."
3. If it's vague: "Try making this more specific and actionable."
4. If it's good: "Well-defined task! Clear action and outcome."
5. If it needs context: "Add more context - who, what, when, where, why?"

Return ONLY the insight, no explanation.

Task: %q
Insight:`, title, title)

	return r.gen.Generate(ctx, prompt)
}

// FollowUps suggests up to three next tasks based on the ten most recent.
func (r *Remote) FollowUps(ctx context.Context, recent []domain.Task) ([]string, error) {
	if len(recent) > 10 {
		recent = recent[:10]
	}
	titles := make([]string, len(recent))
	for i, t := range recent {
		titles[i] = t.Title
	}
	prompt := fmt.Sprintf(`Based on these recent tasks, suggest 3 helpful follow-up tasks:

Recent tasks:
%s

Generate 3 smart suggestions that are:
- Related to their current work
- Actionable next steps
- Different from existing tasks

Return ONLY the 3 suggestions, one per line, no numbering.

Suggestions:`, strings.Join(titles, "\n"))

	text, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return splitNonEmpty(text, "\n", 3), nil
}

// Coaching asks for one short tip based on the collection's counters.
func (r *Remote) Coaching(ctx context.Context, c Counters) (string, error) {
	prompt := fmt.Sprintf(`Provide productivity coaching based on these stats:

- Total tasks: %d
- Completed: %d
- Overdue: %d
- High priority pending: %d

Give ONE specific, actionable coaching tip (max 15 words). Be encouraging if doing well, constructive if struggling.

Coaching:`, c.Total, c.Completed, c.Overdue, c.HighPriorityPending)

	return r.gen.Generate(ctx, prompt)
}

// Tags asks for up to three lowercase category tags.
func (r *Remote) Tags(ctx context.Context, title string) ([]string, error) {
	prompt := fmt.Sprintf(`Suggest 1-3 relevant tags for this task: %q

Common categories: work, personal, health, finance, shopping, learning, social, home, urgent, project

Return ONLY the tags, comma-separated, no hashtags.

Task: %q
Tags:`, title, title)

	text, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	tags := splitNonEmpty(strings.ToLower(text), ",", 3)
	return tags, nil
}

// EstimateMinutes asks how long title will take. It returns 0 when the answer
// holds no positive number.
func (r *Remote) EstimateMinutes(ctx context.Context, title string) (int, error) {
	prompt := fmt.Sprintf(`Estimate how many minutes this task will take: %q

Consider typical time for similar tasks. Return ONLY a number (minutes).

Task: %q
Minutes:`, title, title)

	text, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		return 0, err
	}
	return digitsOf(text), nil
}

// Counters summarises a collection for coaching.
type Counters struct {
	Total               int `json:"total"`
	Completed           int `json:"completed"`
	Overdue             int `json:"overdue"`
	HighPriorityPending int `json:"highPriorityPending"`
}

// CountersOf tallies tasks relative to now.
func CountersOf(tasks []domain.Task, now time.Time) Counters {
	c := Counters{Total: len(tasks)}
	for _, t := range tasks {
		if t.Completed {
			c.Completed++
			continue
		}
		if t.DueDate != nil && t.DueDate.Before(now) {
			c.Overdue++
		}
		if t.Priority == domain.PriorityUrgent || t.Priority == domain.PriorityHigh {
			c.HighPriorityPending++
		}
	}
	return c
}

func splitNonEmpty(s, sep string, limit int) []string {
	out := []string{}
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
		if len(out) == limit {
			break
		}
	}
	return out
}

func digitsOf(s string) int {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(b.String())
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

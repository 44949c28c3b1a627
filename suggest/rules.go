// Package suggest offers task breakdowns, priority hints and workload
// warnings, from keyword rules or a remote language model.
package suggest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"taskmaster/domain"
)

var keywords = struct {
	large, exam, coding, research []string
}{
	large:    []string{"project", "prepare", "build", "create", "develop", "design", "study", "learn", "master"},
	exam:     []string{"exam", "test", "quiz", "midterm", "final"},
	coding:   []string{"code", "program", "develop", "debug", "implement", "fix", "build"},
	research: []string{"research", "investigate", "analyze", "study"},
}

// Analysis classifies a task title by keyword.
type Analysis struct {
	IsLarge    bool `json:"isLarge"`
	IsExam     bool `json:"isExam"`
	IsCoding   bool `json:"isCoding"`
	IsResearch bool `json:"isResearch"`
}

// Analyze flags the kinds of work title mentions.
func Analyze(title string) Analysis {
	lower := strings.ToLower(title)
	return Analysis{
		IsLarge:    containsAny(lower, keywords.large),
		IsExam:     containsAny(lower, keywords.exam),
		IsCoding:   containsAny(lower, keywords.coding),
		IsResearch: containsAny(lower, keywords.research),
	}
}

// Subtasks returns a canned breakdown for title, or nil when the task looks
// small enough to do in one go.
func Subtasks(title string) []string {
	a := Analyze(title)
	lower := strings.ToLower(title)

	switch {
	case a.IsExam:
		return []string{
			"Review lecture notes and materials",
			"Create summary sheets for key topics",
			"Practice with sample questions",
			"Review difficult concepts",
			"Do a final mock test",
		}
	case strings.Contains(lower, "portfolio") || strings.Contains(lower, "website"):
		return []string{
			"Plan site structure and design",
			"Set up development environment",
			"Create main pages (Home, About, Projects)",
			"Add project showcases",
			"Implement responsive design",
			"Deploy to hosting platform",
		}
	case strings.Contains(lower, "assignment") || strings.Contains(lower, "homework"):
		return []string{
			"Read and understand requirements",
			"Gather necessary resources",
			"Create outline or plan",
			"Complete main work",
			"Review and proofread",
		}
	case a.IsCoding:
		return []string{
			"Set up project structure",
			"Implement core functionality",
			"Add error handling",
			"Write tests",
			"Refactor and optimize",
			"Document code",
		}
	case a.IsResearch:
		return []string{
			"Define research scope",
			"Gather sources and references",
			"Take notes and organize findings",
			"Analyze data",
			"Write summary/report",
		}
	case a.IsLarge:
		return []string{
			"Break down into smaller steps",
			"Complete initial phase",
			"Complete middle phase",
			"Finalize and review",
		}
	}
	return nil
}

// SuggestPriority ranks a task by how soon it is due.
func SuggestPriority(t domain.Task, now time.Time) domain.Priority {
	if t.DueDate == nil {
		return domain.PriorityMedium
	}
	hours := t.DueDate.Sub(now).Hours()
	switch {
	case hours < 24:
		return domain.PriorityUrgent
	case hours < 48:
		return domain.PriorityHigh
	case hours < 7*24:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

// Warning kinds reported by DetectProcrastination.
const (
	WarningOverdue   = "overdue"
	WarningOverload  = "overload"
	WarningClustered = "clustered"
)

// Warning describes a workload problem.
type Warning struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Severity string   `json:"severity"`
	TaskIDs  []string `json:"taskIds,omitempty"`
}

const (
	overloadThreshold  = 20
	clusteredThreshold = 5
)

// DetectProcrastination looks for overdue tasks, an overlong backlog and
// deadlines piling up on a single day. Days are taken in now's location.
func DetectProcrastination(tasks []domain.Task, now time.Time) []Warning {
	warnings := []Warning{}

	var overdue []string
	var incomplete []domain.Task
	for _, t := range tasks {
		if t.Completed {
			continue
		}
		incomplete = append(incomplete, t)
		if t.DueDate != nil && t.DueDate.Before(now) {
			overdue = append(overdue, t.ID)
		}
	}

	if n := len(overdue); n > 0 {
		plural := ""
		if n > 1 {
			plural = "s"
		}
		warnings = append(warnings, Warning{
			Type:     WarningOverdue,
			Message:  fmt.Sprintf("You have %d overdue task%s", n, plural),
			Severity: "high",
			TaskIDs:  overdue,
		})
	}

	if len(incomplete) > overloadThreshold {
		warnings = append(warnings, Warning{
			Type:     WarningOverload,
			Message:  "You have many pending tasks. Consider archiving completed ones or breaking large tasks down.",
			Severity: "medium",
		})
	}

	groups := map[string][]string{}
	var days []string
	for _, t := range incomplete {
		if t.DueDate == nil {
			continue
		}
		key := t.DueDate.In(now.Location()).Format("Mon Jan 02 2006")
		if _, ok := groups[key]; !ok {
			days = append(days, key)
		}
		groups[key] = append(groups[key], t.ID)
	}
	for _, day := range days {
		ids := groups[day]
		if len(ids) <= clusteredThreshold {
			continue
		}
		warnings = append(warnings, Warning{
			Type:     WarningClustered,
			Message:  fmt.Sprintf("%d tasks are due on %s. Consider spreading them out.", len(ids), day),
			Severity: "medium",
			TaskIDs:  ids,
		})
	}
	return warnings
}

// SmartSort orders tasks with incomplete work first, then by combined
// priority and deadline pressure. The input is not modified.
func SmartSort(tasks []domain.Task, now time.Time) []domain.Task {
	out := append([]domain.Task(nil), tasks...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Completed != b.Completed {
			return !a.Completed
		}
		return score(a, now) > score(b, now)
	})
	return out
}

func score(t domain.Task, now time.Time) float64 {
	return float64(priorityWeight(t.Priority)*10) + urgency(t, now)
}

func priorityWeight(p domain.Priority) int {
	switch p {
	case domain.PriorityUrgent:
		return 4
	case domain.PriorityHigh:
		return 3
	case domain.PriorityLow:
		return 1
	default:
		return 2
	}
}

func urgency(t domain.Task, now time.Time) float64 {
	if t.DueDate == nil {
		return 0
	}
	hours := t.DueDate.Sub(now).Hours()
	if hours < 0 {
		return 1000
	}
	if hours > 100 {
		return 0
	}
	return 100 - hours
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

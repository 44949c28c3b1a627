package suggest

import (
	"fmt"
	"testing"
	"time"

	"taskmaster/domain"
)

var refNow = time.Date(2026, 10, 17, 10, 30, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := refNow.Add(d)
	return &t
}

func TestAnalyze(t *testing.T) {
	a := Analyze("Study for the Biology MIDTERM")
	if !a.IsExam || !a.IsLarge || !a.IsResearch || a.IsCoding {
		t.Fatalf("unexpected analysis: %#v", a)
	}
	if a := Analyze("buy milk"); a != (Analysis{}) {
		t.Fatalf("expected no flags, got %#v", a)
	}
}

func TestSubtasks(t *testing.T) {
	cases := []struct {
		title string
		first string
		n     int
	}{
		{"final exam prep", "Review lecture notes and materials", 5},
		{"Update my portfolio", "Plan site structure and design", 6},
		{"math homework", "Read and understand requirements", 5},
		{"debug the login flow", "Set up project structure", 6},
		{"research competitors", "Define research scope", 5},
		{"design a garden", "Break down into smaller steps", 4},
	}
	for _, tc := range cases {
		t.Run(tc.title, func(t *testing.T) {
			got := Subtasks(tc.title)
			if len(got) != tc.n || got[0] != tc.first {
				t.Fatalf("Subtasks(%q) = %#v", tc.title, got)
			}
		})
	}
	if got := Subtasks("call mom"); got != nil {
		t.Fatalf("expected nil for small task, got %#v", got)
	}
}

func TestSuggestPriority(t *testing.T) {
	cases := []struct {
		due  *time.Time
		want domain.Priority
	}{
		{nil, domain.PriorityMedium},
		{at(-time.Hour), domain.PriorityUrgent},
		{at(23 * time.Hour), domain.PriorityUrgent},
		{at(24 * time.Hour), domain.PriorityHigh},
		{at(47 * time.Hour), domain.PriorityHigh},
		{at(48 * time.Hour), domain.PriorityMedium},
		{at(6 * 24 * time.Hour), domain.PriorityMedium},
		{at(7 * 24 * time.Hour), domain.PriorityLow},
	}
	for i, tc := range cases {
		if got := SuggestPriority(domain.Task{DueDate: tc.due}, refNow); got != tc.want {
			t.Fatalf("case %d: got %s, want %s", i, got, tc.want)
		}
	}
}

func TestDetectProcrastination(t *testing.T) {
	tasks := []domain.Task{
		{ID: "late1", DueDate: at(-2 * time.Hour)},
		{ID: "late2", DueDate: at(-48 * time.Hour)},
		{ID: "done-late", DueDate: at(-time.Hour), Completed: true},
	}
	warnings := DetectProcrastination(tasks, refNow)
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %#v", warnings)
	}
	w := warnings[0]
	if w.Type != WarningOverdue || w.Severity != "high" || w.Message != "You have 2 overdue tasks" || len(w.TaskIDs) != 2 {
		t.Fatalf("unexpected overdue warning: %#v", w)
	}

	warnings = DetectProcrastination(tasks[:1], refNow)
	if warnings[0].Message != "You have 1 overdue task" {
		t.Fatalf("unexpected singular message: %q", warnings[0].Message)
	}

	if got := DetectProcrastination(nil, refNow); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil warnings, got %#v", got)
	}
}

func TestDetectOverloadAndClusters(t *testing.T) {
	var tasks []domain.Task
	for i := 0; i < 21; i++ {
		tasks = append(tasks, domain.Task{ID: fmt.Sprintf("t%d", i)})
	}
	for i := 0; i < 6; i++ {
		tasks[i].DueDate = at(30 * time.Hour)
	}
	warnings := DetectProcrastination(tasks, refNow)
	if len(warnings) != 2 {
		t.Fatalf("expected overload and clustered warnings, got %#v", warnings)
	}
	if warnings[0].Type != WarningOverload || warnings[0].Severity != "medium" {
		t.Fatalf("unexpected first warning: %#v", warnings[0])
	}
	if warnings[1].Type != WarningClustered || warnings[1].Message != "6 tasks are due on Sun Oct 18 2026. Consider spreading them out." {
		t.Fatalf("unexpected cluster warning: %#v", warnings[1])
	}

	tasks = tasks[:20]
	tasks[0].DueDate = nil
	if got := DetectProcrastination(tasks, refNow); len(got) != 0 {
		t.Fatalf("expected no warnings at the thresholds, got %#v", got)
	}
}

func TestSmartSort(t *testing.T) {
	tasks := []domain.Task{
		{ID: "done-urgent", Priority: domain.PriorityUrgent, Completed: true},
		{ID: "low", Priority: domain.PriorityLow},
		{ID: "high-soon", Priority: domain.PriorityHigh, DueDate: at(10 * time.Hour)},
		{ID: "low-overdue", Priority: domain.PriorityLow, DueDate: at(-time.Hour)},
		{ID: "urgent", Priority: domain.PriorityUrgent},
		{ID: "medium-far", Priority: domain.PriorityMedium, DueDate: at(200 * time.Hour)},
	}
	got := SmartSort(tasks, refNow)
	want := []string{"low-overdue", "high-soon", "urgent", "medium-far", "low", "done-urgent"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: got %s, want %s (order %v)", i, got[i].ID, id, ids(got))
		}
	}
	if tasks[0].ID != "done-urgent" {
		t.Fatalf("input must not be reordered")
	}
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

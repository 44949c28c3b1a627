package progress

// Achievement is a badge unlocked by reaching a counter threshold.
type Achievement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Requirement int    `json:"requirement"`
	// Streak marks achievements counted in consecutive days rather than
	// completed tasks.
	Streak bool `json:"streak"`
}

// Achievements lists every badge in unlock order.
var Achievements = []Achievement{
	{ID: "first_task", Name: "Getting Started", Description: "Complete your first task", Requirement: 1},
	{ID: "tasks_10", Name: "Productivity Novice", Description: "Complete 10 tasks total", Requirement: 10},
	{ID: "tasks_50", Name: "Task Crusher", Description: "Complete 50 tasks total", Requirement: 50},
	{ID: "tasks_100", Name: "Century Club", Description: "Complete 100 tasks total", Requirement: 100},
	{ID: "tasks_500", Name: "Legendary", Description: "Complete 500 tasks total", Requirement: 500},
	{ID: "streak_3", Name: "3-Day Streak", Description: "Complete tasks for 3 days in a row", Requirement: 3, Streak: true},
	{ID: "streak_7", Name: "Week Warrior", Description: "Complete tasks for 7 days in a row", Requirement: 7, Streak: true},
	{ID: "streak_30", Name: "Monthly Master", Description: "Complete tasks for 30 days in a row", Requirement: 30, Streak: true},
}

// AchievementByID looks up a catalogue entry.
func AchievementByID(id string) (Achievement, bool) {
	for _, a := range Achievements {
		if a.ID == id {
			return a, true
		}
	}
	return Achievement{}, false
}

// unlocked returns the achievements earned by reaching exactly tasks
// completed or streak days that are not already in have.
func unlocked(tasks, streak int, have []string) []string {
	owned := make(map[string]struct{}, len(have))
	for _, id := range have {
		owned[id] = struct{}{}
	}
	var out []string
	for _, a := range Achievements {
		counter := tasks
		if a.Streak {
			counter = streak
		}
		if counter != a.Requirement {
			continue
		}
		if _, ok := owned[a.ID]; ok {
			continue
		}
		out = append(out, a.ID)
	}
	return out
}

package workspace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Goal is one checkbox line in GOALS.md:
//
//   - [ ] water the plants | added:2026-08-30 | due:2026-09-01 | id:goal_xxxx
//
// The due field is optional; done goals use "- [x]".
type Goal struct {
	ID          string
	Description string
	Added       time.Time
	Due         *time.Time
	Done        bool
}

func (g Goal) line() string {
	box := "[ ]"
	if g.Done {
		box = "[x]"
	}
	s := fmt.Sprintf("- %s %s | added:%s", box, g.Description, g.Added.Format("2006-01-02"))
	if g.Due != nil {
		s += " | due:" + g.Due.Format("2006-01-02")
	}
	return s + " | id:" + g.ID
}

func (w *Workspace) goalsPath() string { return filepath.Join(w.Root, DocGoals) }

// ListGoals parses GOALS.md. Lines that are not goal checkboxes are
// ignored so the file can carry headers and notes.
func (w *Workspace) ListGoals() ([]Goal, error) {
	f, err := os.Open(w.goalsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var goals []Goal
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if g, ok := parseGoalLine(sc.Text()); ok {
			goals = append(goals, g)
		}
	}
	return goals, sc.Err()
}

func (w *Workspace) AddGoal(description string, due *time.Time, now time.Time) (Goal, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Goal{}, fmt.Errorf("empty goal description")
	}
	g := Goal{
		ID:          "goal_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Description: description,
		Added:       now,
		Due:         due,
	}
	f, err := os.OpenFile(w.goalsPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Goal{}, err
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, g.line()); err != nil {
		return Goal{}, err
	}
	return g, nil
}

// CompleteGoal flips the goal's checkbox to done. Returns false when no
// open goal with that id exists.
func (w *Workspace) CompleteGoal(id string) (bool, error) {
	data, err := os.ReadFile(w.goalsPath())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	lines := strings.Split(string(data), "\n")
	changed := false
	for i, line := range lines {
		g, ok := parseGoalLine(line)
		if !ok || g.ID != id || g.Done {
			continue
		}
		g.Done = true
		lines[i] = g.line()
		changed = true
		break
	}
	if !changed {
		return false, nil
	}
	return true, os.WriteFile(w.goalsPath(), []byte(strings.Join(lines, "\n")), 0o644)
}

// OpenGoals returns goals that are not done, due-soonest first (goals
// without a due date keep file order at the end).
func (w *Workspace) OpenGoals() ([]Goal, error) {
	all, err := w.ListGoals()
	if err != nil {
		return nil, err
	}
	var dated, undated []Goal
	for _, g := range all {
		if g.Done {
			continue
		}
		if g.Due != nil {
			dated = append(dated, g)
		} else {
			undated = append(undated, g)
		}
	}
	for i := 1; i < len(dated); i++ {
		for j := i; j > 0 && dated[j].Due.Before(*dated[j-1].Due); j-- {
			dated[j], dated[j-1] = dated[j-1], dated[j]
		}
	}
	return append(dated, undated...), nil
}

func parseGoalLine(line string) (Goal, bool) {
	s := strings.TrimSpace(line)
	var done bool
	switch {
	case strings.HasPrefix(s, "- [ ] "):
		s = strings.TrimPrefix(s, "- [ ] ")
	case strings.HasPrefix(s, "- [x] "), strings.HasPrefix(s, "- [X] "):
		done = true
		s = s[len("- [x] "):]
	default:
		return Goal{}, false
	}

	parts := strings.Split(s, "|")
	g := Goal{Description: strings.TrimSpace(parts[0]), Done: done}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		switch {
		case strings.HasPrefix(p, "added:"):
			if t, err := time.Parse("2006-01-02", strings.TrimPrefix(p, "added:")); err == nil {
				g.Added = t
			}
		case strings.HasPrefix(p, "due:"):
			if t, err := time.Parse("2006-01-02", strings.TrimPrefix(p, "due:")); err == nil {
				g.Due = &t
			}
		case strings.HasPrefix(p, "id:"):
			g.ID = strings.TrimPrefix(p, "id:")
		}
	}
	if g.Description == "" || g.ID == "" {
		return Goal{}, false
	}
	return g, true
}

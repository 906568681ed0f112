package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new workspace: %v", err)
	}
	return w
}

func TestDocRoundTrip(t *testing.T) {
	w := newTestWorkspace(t)

	got, err := w.ReadDoc(DocSoul)
	if err != nil {
		t.Fatalf("read missing doc: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty contents for missing doc, got %q", got)
	}

	if err := w.WriteDoc(DocSoul, "# Soul\nbe helpful\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err = w.ReadDoc(DocSoul)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(got, "be helpful") {
		t.Fatalf("unexpected contents: %q", got)
	}
}

func TestDocRejectsUnknownNames(t *testing.T) {
	w := newTestWorkspace(t)
	if _, err := w.ReadDoc("../etc/passwd"); err == nil {
		t.Fatal("expected error for unknown doc name")
	}
	if err := w.WriteDoc("NOTES.md", "x"); err == nil {
		t.Fatal("expected error for unknown doc name")
	}
}

func TestBootstrapPending(t *testing.T) {
	w := newTestWorkspace(t)
	if w.BootstrapPending() {
		t.Fatal("no BOOTSTRAP.md yet, nothing pending")
	}
	if err := w.WriteDoc(DocBootstrap, "first run ritual"); err != nil {
		t.Fatal(err)
	}
	if !w.BootstrapPending() {
		t.Fatal("BOOTSTRAP.md present without SOUL.md should be pending")
	}
	if err := w.WriteDoc(DocSoul, "done"); err != nil {
		t.Fatal(err)
	}
	if w.BootstrapPending() {
		t.Fatal("SOUL.md written, bootstrap no longer pending")
	}
}

func TestDailyMemoryAppend(t *testing.T) {
	w := newTestWorkspace(t)
	now := time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC)

	if err := w.AppendDailyMemory(now, "met the user"); err != nil {
		t.Fatal(err)
	}
	if err := w.AppendDailyMemory(now.Add(time.Hour), "cleared inbox"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(w.Root, "memory", "2026-08-30.md"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "# 2026-08-30\n") {
		t.Fatalf("expected date header, got %q", text)
	}
	if !strings.Contains(text, "- 14:05 met the user") || !strings.Contains(text, "- 15:05 cleared inbox") {
		t.Fatalf("entries missing: %q", text)
	}
	if strings.Count(text, "# 2026-08-30") != 1 {
		t.Fatalf("header duplicated: %q", text)
	}
}

func TestRecentDailyMemoryOrder(t *testing.T) {
	w := newTestWorkspace(t)
	for _, day := range []string{"2026-08-28", "2026-08-29", "2026-08-30"} {
		ts, _ := time.Parse("2006-01-02", day)
		if err := w.AppendDailyMemory(ts, "entry for "+day); err != nil {
			t.Fatal(err)
		}
	}
	files, err := w.RecentDailyMemory(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if !strings.Contains(files[0], "2026-08-30") || !strings.Contains(files[1], "2026-08-29") {
		t.Fatalf("wrong order: %q / %q", files[0][:20], files[1][:20])
	}
}

func TestGoalLifecycle(t *testing.T) {
	w := newTestWorkspace(t)
	now := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, 2)

	g, err := w.AddGoal("water the plants", &due, now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.AddGoal("reply to landlord", nil, now); err != nil {
		t.Fatal(err)
	}

	open, err := w.OpenGoals()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open goals, got %d", len(open))
	}
	if open[0].ID != g.ID {
		t.Fatalf("dated goal should sort first, got %q", open[0].Description)
	}

	ok, err := w.CompleteGoal(g.ID)
	if err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	// Completing again is a no-op.
	ok, err = w.CompleteGoal(g.ID)
	if err != nil || ok {
		t.Fatalf("re-complete: ok=%v err=%v", ok, err)
	}

	open, err = w.OpenGoals()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].Description != "reply to landlord" {
		t.Fatalf("unexpected open goals: %+v", open)
	}

	all, err := w.ListGoals()
	if err != nil {
		t.Fatal(err)
	}
	var done int
	for _, g := range all {
		if g.Done {
			done++
		}
	}
	if done != 1 {
		t.Fatalf("expected 1 done goal, got %d", done)
	}
}

func TestGoalParserIgnoresProse(t *testing.T) {
	w := newTestWorkspace(t)
	contents := "# Goals\n\nsome notes\n- [ ] valid goal | added:2026-08-30 | id:goal_abc\n- [ ] missing id line\n"
	if err := w.WriteDoc(DocGoals, contents); err != nil {
		t.Fatal(err)
	}
	goals, err := w.ListGoals()
	if err != nil {
		t.Fatal(err)
	}
	if len(goals) != 1 || goals[0].ID != "goal_abc" {
		t.Fatalf("unexpected goals: %+v", goals)
	}
}

func TestLoadSkills(t *testing.T) {
	w := newTestWorkspace(t)
	writeSkill := func(dir, contents string) {
		t.Helper()
		path := filepath.Join(w.Root, "skills", dir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(path, "SKILL.md"), []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	writeSkill("whatsapp-reply", "---\nname: whatsapp-reply\ndescription: reply to chats\napps:\n  - com.whatsapp\n---\nOpen the chat, type the reply, but never tap send without approval.\n")
	writeSkill("generic-triage", "---\nname: generic-triage\ndescription: triage notifications\n---\nDismiss obvious noise.\n")
	writeSkill("broken", "no frontmatter here\n")

	skills, err := w.LoadSkills()
	if err != nil {
		t.Fatal(err)
	}
	if len(skills) != 2 {
		t.Fatalf("expected 2 skills, got %d", len(skills))
	}
	if skills[0].Name != "generic-triage" || skills[1].Name != "whatsapp-reply" {
		t.Fatalf("unexpected order: %q, %q", skills[0].Name, skills[1].Name)
	}
	if !strings.Contains(skills[1].Body, "never tap send") {
		t.Fatalf("body not preserved: %q", skills[1].Body)
	}

	forApp, err := w.SkillsForApp("com.whatsapp")
	if err != nil {
		t.Fatal(err)
	}
	if len(forApp) != 2 {
		t.Fatalf("expected app-scoped + unrestricted skill, got %d", len(forApp))
	}
	forApp, err = w.SkillsForApp("com.other")
	if err != nil {
		t.Fatal(err)
	}
	if len(forApp) != 1 || forApp[0].Name != "generic-triage" {
		t.Fatalf("expected only unrestricted skill, got %+v", forApp)
	}
}

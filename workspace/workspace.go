// Package workspace manages the agent's on-disk document store: the
// identity and instruction markdown files the model reads every tick,
// the daily memory journal, goals, and skills.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hermitdroid/hermitdroid/internal/pathutil"
)

// Document file names recognized at the workspace root. Anything else
// is rejected by Read/Write so the HTTP surface cannot be used to
// touch arbitrary paths.
const (
	DocSoul      = "SOUL.md"
	DocIdentity  = "IDENTITY.md"
	DocAgents    = "AGENTS.md"
	DocTools     = "TOOLS.md"
	DocUser      = "USER.md"
	DocHeartbeat = "HEARTBEAT.md"
	DocMemory    = "MEMORY.md"
	DocGoals     = "GOALS.md"
	DocBootstrap = "BOOTSTRAP.md"
)

var knownDocs = map[string]bool{
	DocSoul:      true,
	DocIdentity:  true,
	DocAgents:    true,
	DocTools:     true,
	DocUser:      true,
	DocHeartbeat: true,
	DocMemory:    true,
	DocGoals:     true,
	DocBootstrap: true,
}

type Workspace struct {
	Root string
}

func New(root string) (*Workspace, error) {
	root = pathutil.ExpandHomePath(root)
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("empty workspace root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "memory"), 0o755); err != nil {
		return nil, fmt.Errorf("create memory directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "skills"), 0o755); err != nil {
		return nil, fmt.Errorf("create skills directory: %w", err)
	}
	return &Workspace{Root: root}, nil
}

func KnownDoc(name string) bool { return knownDocs[name] }

// ReadDoc returns the contents of a known workspace document, or ""
// when the file does not exist yet.
func (w *Workspace) ReadDoc(name string) (string, error) {
	if !knownDocs[name] {
		return "", fmt.Errorf("unknown workspace document: %s", name)
	}
	data, err := os.ReadFile(filepath.Join(w.Root, name))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (w *Workspace) WriteDoc(name, contents string) error {
	if !knownDocs[name] {
		return fmt.Errorf("unknown workspace document: %s", name)
	}
	return os.WriteFile(filepath.Join(w.Root, name), []byte(contents), 0o644)
}

// BootstrapPending reports whether the first-run ritual has not been
// completed: BOOTSTRAP.md exists and SOUL.md does not.
func (w *Workspace) BootstrapPending() bool {
	if _, err := os.Stat(filepath.Join(w.Root, DocBootstrap)); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(w.Root, DocSoul))
	return os.IsNotExist(err)
}

// AppendDailyMemory appends a timestamped entry to memory/YYYY-MM-DD.md,
// creating the file with a date header on first write of the day.
func (w *Workspace) AppendDailyMemory(now time.Time, entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	day := now.Format("2006-01-02")
	path := filepath.Join(w.Root, "memory", day+".md")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daily memory: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		if _, err := fmt.Fprintf(f, "# %s\n\n", day); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(f, "- %s %s\n", now.Format("15:04"), entry)
	return err
}

// RecentDailyMemory returns the contents of the newest daily memory
// files, most recent first, up to n files.
func (w *Workspace) RecentDailyMemory(n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(filepath.Join(w.Root, "memory"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if len(names) > n {
		names = names[:n]
	}
	var out []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(w.Root, "memory", name))
		if err != nil {
			return nil, err
		}
		out = append(out, string(data))
	}
	return out, nil
}

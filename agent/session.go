package agent

import (
	"strings"
	"sync"
)

const sessionMaxLines = 50

// Session keeps a rolling window of recent tick summaries and user
// messages so consecutive decisions share short-term context.
type Session struct {
	mu    sync.Mutex
	lines []string
}

func (s *Session) Append(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	if len(s.lines) > sessionMaxLines {
		s.lines = s.lines[len(s.lines)-sessionMaxLines:]
	}
}

func (s *Session) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
}

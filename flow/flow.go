// Package flow runs hand-written device flows: a YAML list of fixed
// primitive steps with no model in the loop. Every step still passes
// the guardrail gate.
package flow

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Flow struct {
	Name        string
	Description string
	Steps       []Step
}

// Step ops mirror the bridge action vocabulary where it makes sense
// for scripting.
const (
	OpWait    = "wait"
	OpLaunch  = "launch"
	OpTap     = "tap"
	OpTapText = "tap_text"
	OpType    = "type"
	OpSwipe   = "swipe"
	OpKey     = "key"
	OpHome    = "home"
	OpBack    = "back"
	OpDone    = "done"
)

type Step struct {
	Op         string
	Text       string
	Coords     []int
	Seconds    float64
	BestEffort bool
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Load reads a flow file: YAML frontmatter between --- markers, then a
// YAML step list.
func Load(path string) (Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Flow{}, err
	}
	return Parse(string(data))
}

func Parse(contents string) (Flow, error) {
	fm, body, ok := splitFrontmatter(contents)
	if !ok {
		return Flow{}, fmt.Errorf("flow file missing frontmatter header")
	}
	var head frontmatter
	if err := yaml.Unmarshal([]byte(fm), &head); err != nil {
		return Flow{}, fmt.Errorf("flow frontmatter: %w", err)
	}
	if strings.TrimSpace(head.Name) == "" {
		return Flow{}, fmt.Errorf("flow has no name")
	}

	var nodes []yaml.Node
	if err := yaml.Unmarshal([]byte(body), &nodes); err != nil {
		return Flow{}, fmt.Errorf("flow steps: %w", err)
	}
	if len(nodes) == 0 {
		return Flow{}, fmt.Errorf("flow %q has no steps", head.Name)
	}

	f := Flow{Name: strings.TrimSpace(head.Name), Description: strings.TrimSpace(head.Description)}
	for i, n := range nodes {
		step, err := parseStep(&n)
		if err != nil {
			return Flow{}, fmt.Errorf("flow %q step %d: %w", head.Name, i+1, err)
		}
		f.Steps = append(f.Steps, step)
	}
	return f, nil
}

func parseStep(n *yaml.Node) (Step, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		op := strings.TrimSpace(n.Value)
		switch op {
		case OpHome, OpBack, OpDone:
			return Step{Op: op}, nil
		}
		return Step{}, fmt.Errorf("bare step %q takes arguments", op)
	case yaml.MappingNode:
		return parseMappingStep(n)
	default:
		return Step{}, fmt.Errorf("step must be a string or a mapping")
	}
}

func parseMappingStep(n *yaml.Node) (Step, error) {
	var s Step
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := strings.TrimSpace(n.Content[i].Value)
		val := n.Content[i+1]

		if key == "best_effort" {
			if err := val.Decode(&s.BestEffort); err != nil {
				return Step{}, fmt.Errorf("best_effort: %w", err)
			}
			continue
		}
		if s.Op != "" {
			return Step{}, fmt.Errorf("step has more than one op (%s and %s)", s.Op, key)
		}
		s.Op = key

		switch key {
		case OpWait:
			if err := val.Decode(&s.Seconds); err != nil {
				return Step{}, fmt.Errorf("wait wants seconds: %w", err)
			}
			if s.Seconds <= 0 || s.Seconds > 60 {
				return Step{}, fmt.Errorf("wait seconds out of range: %v", s.Seconds)
			}
		case OpLaunch, OpTapText, OpType, OpKey:
			if err := val.Decode(&s.Text); err != nil {
				return Step{}, fmt.Errorf("%s wants a string: %w", key, err)
			}
			if strings.TrimSpace(s.Text) == "" && key != OpType {
				return Step{}, fmt.Errorf("%s argument is empty", key)
			}
		case OpTap:
			if err := val.Decode(&s.Coords); err != nil {
				return Step{}, fmt.Errorf("tap wants [x, y]: %w", err)
			}
			if len(s.Coords) != 2 || s.Coords[0] < 0 || s.Coords[1] < 0 {
				return Step{}, fmt.Errorf("tap wants two non-negative coordinates")
			}
		case OpSwipe:
			if err := val.Decode(&s.Coords); err != nil {
				return Step{}, fmt.Errorf("swipe wants [x1, y1, x2, y2]: %w", err)
			}
			if len(s.Coords) != 4 && len(s.Coords) != 5 {
				return Step{}, fmt.Errorf("swipe wants four coordinates plus optional duration_ms")
			}
		case OpHome, OpBack, OpDone:
			// no arguments
		default:
			return Step{}, fmt.Errorf("unknown step op %q", key)
		}
	}
	if s.Op == "" {
		return Step{}, fmt.Errorf("step mapping has no op")
	}
	return s, nil
}

func splitFrontmatter(contents string) (fm, body string, ok bool) {
	sc := bufio.NewScanner(strings.NewReader(contents))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "---" {
		return "", "", false
	}
	var fmLines []string
	closed := false
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "---" {
			closed = true
			break
		}
		fmLines = append(fmLines, line)
	}
	if !closed {
		return "", "", false
	}
	var bodyLines []string
	for sc.Scan() {
		bodyLines = append(bodyLines, sc.Text())
	}
	return strings.Join(fmLines, "\n"), strings.Join(bodyLines, "\n"), true
}

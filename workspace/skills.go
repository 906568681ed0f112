package workspace

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is one skills/<dir>/SKILL.md document: a named playbook the
// model can be pointed at when its description matches the situation.
type Skill struct {
	Name        string
	Description string
	Apps        []string
	Body        string
}

type skillFrontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Apps        []string `yaml:"apps"`
}

// LoadSkills scans skills/*/SKILL.md. Files without valid frontmatter
// or without a name are skipped rather than failing the load.
func (w *Workspace) LoadSkills() ([]Skill, error) {
	dir := filepath.Join(w.Root, "skills")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var skills []Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name(), "SKILL.md"))
		if err != nil {
			continue
		}
		fm, body, ok := parseSkillFrontmatter(string(data))
		if !ok || strings.TrimSpace(fm.Name) == "" {
			continue
		}
		skills = append(skills, Skill{
			Name:        strings.TrimSpace(fm.Name),
			Description: strings.TrimSpace(fm.Description),
			Apps:        fm.Apps,
			Body:        strings.TrimSpace(body),
		})
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills, nil
}

// SkillsForApp returns skills whose apps list contains pkg, or that
// declare no app restriction at all.
func (w *Workspace) SkillsForApp(pkg string) ([]Skill, error) {
	all, err := w.LoadSkills()
	if err != nil {
		return nil, err
	}
	var out []Skill
	for _, s := range all {
		if len(s.Apps) == 0 {
			out = append(out, s)
			continue
		}
		for _, a := range s.Apps {
			if strings.TrimSpace(a) == pkg {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func parseSkillFrontmatter(contents string) (skillFrontmatter, string, bool) {
	sc := bufio.NewScanner(strings.NewReader(contents))
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "---" {
		return skillFrontmatter{}, "", false
	}

	var yamlLines []string
	foundEnd := false
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "---" {
			foundEnd = true
			break
		}
		yamlLines = append(yamlLines, line)
	}
	if !foundEnd {
		return skillFrontmatter{}, "", false
	}

	var bodyLines []string
	for sc.Scan() {
		bodyLines = append(bodyLines, sc.Text())
	}

	var fm skillFrontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(yamlLines, "\n")), &fm); err != nil {
		return skillFrontmatter{}, "", false
	}
	return fm, strings.Join(bodyLines, "\n"), true
}

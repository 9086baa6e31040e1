// Package skills holds named blocks of instructional text that are appended
// to an agent's system instruction, plus the redaction used by the
// sensitive-data skill.
package skills

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Built-in skill ids.
const (
	FileFinder    = "file-finder"
	NodeLookup    = "node-lookup"
	SensitiveData = "sensitive-data"
)

// Skill is one named instruction block.
type Skill struct {
	ID           string `yaml:"id"`
	Description  string `yaml:"description"`
	Instructions string `yaml:"instructions"`
}

type skillFile struct {
	Skills []Skill `yaml:"skills"`
}

// Library is the set of skills known to the process.
type Library struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewLibrary returns a library seeded with the built-in skills.
func NewLibrary() *Library {
	l := &Library{skills: make(map[string]Skill)}
	for _, s := range builtins() {
		l.skills[s.ID] = s
	}
	return l
}

// LoadFile adds the skills defined in a YAML file. Entries replace built-ins
// with the same id.
func (l *Library) LoadFile(fsys afero.Fs, path string) error {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return fmt.Errorf("failed to read skills file: %w", err)
	}
	var f skillFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse skills file %s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range f.Skills {
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return fmt.Errorf("skills file %s: entry %d has no id", path, i)
		}
		if strings.TrimSpace(s.Instructions) == "" {
			return fmt.Errorf("skills file %s: skill %q has no instructions", path, s.ID)
		}
		l.skills[s.ID] = s
	}
	return nil
}

// Lookup returns the skill with the given id.
func (l *Library) Lookup(id string) (Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[id]
	return s, ok
}

// IDs returns every known skill id, sorted.
func (l *Library) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.skills))
	for id := range l.skills {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Instructions joins the instructions of the named skills in the given order.
func (l *Library) Instructions(ids ...string) (string, error) {
	var blocks []string
	for _, id := range ids {
		s, ok := l.Lookup(id)
		if !ok {
			return "", fmt.Errorf("unknown skill %q", id)
		}
		blocks = append(blocks, fmt.Sprintf("Skill: %s\n%s", s.ID, strings.TrimSpace(s.Instructions)))
	}
	return strings.Join(blocks, "\n\n"), nil
}

// RedactedEmail replaces every e-mail address removed by Redact.
const RedactedEmail = "[EMAIL REDACTED]"

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// Redact replaces e-mail addresses in text.
func Redact(text string) string {
	return emailPattern.ReplaceAllString(text, RedactedEmail)
}

func builtins() []Skill {
	return []Skill{
		{
			ID:          FileFinder,
			Description: "Locate files the user names without a full path.",
			Instructions: `When the user names a file without its full path:
- first try find_file with the exact base name;
- if that reports not found, try the candidate locations listed above;
- use list_directory on ".", "docs", "test" and "nodes" to discover the layout;
- always state the exact relative path you are trying.`,
		},
		{
			ID:          NodeLookup,
			Description: "Answer questions about node documentation pages.",
			Instructions: `Node documentation lives under nodes/<lang>/<category>/<name>.md, where lang is en or fr
and category is one of ai, integrations, triggers or utilities.
Prefer the English page unless the user writes in French. Quote the page you used.`,
		},
		{
			ID:          SensitiveData,
			Description: "Answer only from supplied context and never reveal personal information.",
			Instructions: `Answer the question using ONLY the supplied context.
Do NOT reveal personal information. Redacted values appear as ` + RedactedEmail + ` and must stay redacted.`,
		},
	}
}

// Package templates loads speech and card text from a YAML file, so
// voice copy lives next to the skill instead of inside handler code.
//
// The file is a flat mapping of template name to template text:
//
//	welcome: Welcome to {{.name}}. How can I help?
//	goodbye: Goodbye.
//
// Text is rendered with text/template. The file is re-read when its
// modification time changes, so copy edits do not require a restart.
package templates

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"text/template"
	"time"

	"gopkg.in/yaml.v2"
)

// Store renders named templates from one YAML file.
type Store struct {
	path string

	mu      sync.Mutex
	mtime   time.Time
	mapping map[string]string
}

// Load reads the template file at path.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Render executes the named template with data.
func (s *Store) Render(name string, data any) (string, error) {
	source, err := s.source(name)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name).Parse(source)
	if err != nil {
		return "", fmt.Errorf("templates: parse %q: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: render %q: %w", name, err)
	}
	return buf.String(), nil
}

func (s *Store) source(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info, err := os.Stat(s.path); err == nil && !info.ModTime().Equal(s.mtime) {
		if err := s.reloadLocked(); err != nil {
			return "", err
		}
	}
	source, ok := s.mapping[name]
	if !ok {
		return "", fmt.Errorf("templates: %q not found in %s", name, s.path)
	}
	return source, nil
}

func (s *Store) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

func (s *Store) reloadLocked() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	mapping := map[string]string{}
	if err := yaml.Unmarshal(raw, &mapping); err != nil {
		return fmt.Errorf("templates: parse %s: %w", s.path, err)
	}
	s.mapping = mapping
	s.mtime = info.ModTime()
	return nil
}

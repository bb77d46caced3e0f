package template

import (
	"fmt"
	htmlTemplate "html/template"
	"io"
	"strings"
	"sync"
	textTemplate "text/template"
)

// executor is the part of text/template and html/template the engine needs
type executor interface {
	Execute(w io.Writer, data any) error
}

type part int

const (
	partSubject part = iota
	partHTML
	partText
)

func (p part) String() string {
	switch p {
	case partSubject:
		return "subject"
	case partHTML:
		return "html"
	}
	return "text"
}

type cacheKey struct {
	part   part
	source string
}

// Engine renders letters with contact data. Parsed templates are cached by
// source since a session renders the same letter once per contact.
type Engine struct {
	mu     sync.Mutex
	parsed map[cacheKey]executor
}

// NewEngine creates a new template engine
func NewEngine() *Engine {
	return &Engine{parsed: make(map[cacheKey]executor)}
}

// Render renders a letter for one contact. The subject is itself a template,
// so custom subjects may use contact fields too.
func (e *Engine) Render(letter *Letter, subject string, data map[string]interface{}) (*RenderResult, error) {
	var result RenderResult
	outputs := []struct {
		part   part
		source string
		dst    *string
	}{
		{partSubject, subject, &result.Subject},
		{partHTML, letter.HTML, &result.HTML},
		{partText, letter.Text, &result.Text},
	}

	for _, out := range outputs {
		if out.source == "" {
			continue
		}
		rendered, err := e.execute(out.part, out.source, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", out.part, err)
		}
		*out.dst = rendered
	}

	return &result, nil
}

// Validate parses every subject and body of the letter
func (e *Engine) Validate(letter *Letter) error {
	for i, s := range letter.Subjects {
		if _, err := e.lookup(partSubject, s); err != nil {
			return fmt.Errorf("invalid subject %d template: %w", i+1, err)
		}
	}
	for _, p := range []part{partHTML, partText} {
		source := letter.HTML
		if p == partText {
			source = letter.Text
		}
		if source == "" {
			continue
		}
		if _, err := e.lookup(p, source); err != nil {
			return fmt.Errorf("invalid %s template: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) execute(p part, source string, data map[string]interface{}) (string, error) {
	t, err := e.lookup(p, source)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (e *Engine) lookup(p part, source string) (executor, error) {
	key := cacheKey{part: p, source: source}

	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.parsed[key]; ok {
		return t, nil
	}

	var (
		t   executor
		err error
	)
	if p == partHTML {
		t, err = htmlTemplate.New(p.String()).Parse(source)
	} else {
		t, err = textTemplate.New(p.String()).Parse(source)
	}
	if err != nil {
		return nil, err
	}
	e.parsed[key] = t
	return t, nil
}

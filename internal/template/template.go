package template

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iase/mailmerge/internal/contact"
)

// Supported languages
const (
	English   = "en"
	Norwegian = "no"
)

// ErrNoSubject is returned when neither a subject option nor a custom subject is given
var ErrNoSubject = errors.New("please select or enter a subject")

// customSubject maps each language to the subject option that means
// "use the caller's own subject"
var customSubject = map[string]string{
	English:   "Custom Subject",
	Norwegian: "Tilpasset Emne",
}

// CustomSubjectOption returns the custom subject sentinel for lang
func CustomSubjectOption(lang string) string {
	return customSubject[lang]
}

// Letter is an email template in one language
type Letter struct {
	ID       string   `json:"id" yaml:"id"`
	Language string   `json:"language" yaml:"language"`
	Name     string   `json:"name" yaml:"name"`
	Subjects []string `json:"subjects" yaml:"subjects"` // the custom subject sentinel is appended
	HTML     string   `json:"html,omitempty" yaml:"html"`
	Text     string   `json:"text,omitempty" yaml:"text"`
}

// SubjectOptions returns the letter's subjects followed by the custom sentinel
func (l *Letter) SubjectOptions() []string {
	opts := append([]string(nil), l.Subjects...)
	if s, ok := customSubject[l.Language]; ok {
		opts = append(opts, s)
	}
	return opts
}

// ResolveSubject picks the subject for a session. An empty option means the
// first subject unless a custom subject is given; the custom sentinel means
// the custom subject.
func (l *Letter) ResolveSubject(option, custom string) (string, error) {
	option = strings.TrimSpace(option)
	custom = strings.TrimSpace(custom)

	if option == "" {
		if custom != "" {
			return custom, nil
		}
		if len(l.Subjects) > 0 {
			return l.Subjects[0], nil
		}
		return "", ErrNoSubject
	}

	if option == customSubject[l.Language] {
		if custom == "" {
			return "", ErrNoSubject
		}
		return custom, nil
	}

	for _, s := range l.Subjects {
		if s == option {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown subject option %q for letter %s", option, l.ID)
}

// RenderResult contains rendered letter output
type RenderResult struct {
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// DataFor exposes a contact's fields to templates
func DataFor(c contact.Contact) map[string]interface{} {
	return map[string]interface{}{
		"UID":         c.UID,
		"Name":        c.Name,
		"Email":       c.Email,
		"Nation":      c.Nation,
		"Institution": c.Institution,
		"Custom1":     c.Custom1,
		"Custom2":     c.Custom2,
	}
}

// Catalog holds the available letters keyed by language and id
type Catalog struct {
	letters map[string]map[string]*Letter
	// first letter id per language, used when no id is requested
	defaults map[string]string
}

func newCatalog() *Catalog {
	return &Catalog{
		letters:  make(map[string]map[string]*Letter),
		defaults: make(map[string]string),
	}
}

func (c *Catalog) add(l *Letter) {
	if c.letters[l.Language] == nil {
		c.letters[l.Language] = make(map[string]*Letter)
	}
	if _, ok := c.defaults[l.Language]; !ok {
		c.defaults[l.Language] = l.ID
	}
	c.letters[l.Language][l.ID] = l
}

// DefaultCatalog returns the built-in English and Norwegian letters
func DefaultCatalog() *Catalog {
	c := newCatalog()
	for i := range builtinLetters {
		l := builtinLetters[i]
		c.add(&l)
	}
	return c
}

type catalogFile struct {
	Letters []Letter `yaml:"letters"`
}

// LoadCatalog reads letters from a YAML file on top of the built-in ones.
// A letter with the same language and id replaces the built-in one.
func LoadCatalog(path string, engine *Engine) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	c := DefaultCatalog()
	for i := range file.Letters {
		l := file.Letters[i]
		if l.ID == "" {
			return nil, fmt.Errorf("letter %d: id is required", i+1)
		}
		if _, ok := customSubject[l.Language]; !ok {
			return nil, fmt.Errorf("letter %s: unsupported language %q", l.ID, l.Language)
		}
		if l.HTML == "" && l.Text == "" {
			return nil, fmt.Errorf("letter %s: html or text body is required", l.ID)
		}
		if err := engine.Validate(&l); err != nil {
			return nil, fmt.Errorf("letter %s: %w", l.ID, err)
		}
		c.add(&l)
	}

	return c, nil
}

// Letter returns the letter for lang and id. An empty id selects the
// language's default letter.
func (c *Catalog) Letter(lang, id string) (*Letter, error) {
	byID, ok := c.letters[lang]
	if !ok {
		return nil, fmt.Errorf("no letters for language %q", lang)
	}
	if id == "" {
		id = c.defaults[lang]
	}
	l, ok := byID[id]
	if !ok {
		return nil, fmt.Errorf("letter %q not found for language %q", id, lang)
	}
	return l, nil
}

// List returns all letters ordered by language then id
func (c *Catalog) List() []*Letter {
	var out []*Letter
	for _, byID := range c.letters {
		for _, l := range byID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Language != out[j].Language {
			return out[i].Language < out[j].Language
		}
		return out[i].ID < out[j].ID
	})
	return out
}

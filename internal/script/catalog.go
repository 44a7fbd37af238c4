// Package script loads, validates and stores demo chat scripts.
package script

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/chat-demo/internal/model"
)

const (
	maxEvents     = 200
	maxTextLength = 2000
	maxPause      = time.Minute
)

var (
	// ErrInvalidScript is wrapped by every validation failure.
	ErrInvalidScript = errors.New("invalid script")
	// ErrDuplicateScript is returned when a script id is already taken.
	ErrDuplicateScript = errors.New("script already exists")

	idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)
)

// ValidID reports whether id is a usable script identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Validate checks a script before it can be played.
func Validate(s model.Script) error {
	if !ValidID(s.ID) {
		return fmt.Errorf("%w: id %q must match %s", ErrInvalidScript, s.ID, idPattern)
	}
	if len(s.Events) > maxEvents {
		return fmt.Errorf("%w: %s has %d events, limit is %d", ErrInvalidScript, s.ID, len(s.Events), maxEvents)
	}
	for i, ev := range s.Events {
		switch ev.Kind {
		case model.KindLeadMessage, model.KindAIReply:
			if strings.TrimSpace(ev.Text) == "" {
				return fmt.Errorf("%w: %s event %d: empty %s text", ErrInvalidScript, s.ID, i, ev.Kind)
			}
			if utf8.RuneCountInString(ev.Text) > maxTextLength {
				return fmt.Errorf("%w: %s event %d: text exceeds %d characters", ErrInvalidScript, s.ID, i, maxTextLength)
			}
			if !utf8.ValidString(ev.Text) {
				return fmt.Errorf("%w: %s event %d: text must be valid UTF-8", ErrInvalidScript, s.ID, i)
			}
		case model.KindPause:
			if ev.DurationMs < 0 || ev.DurationMs > maxPause.Milliseconds() {
				return fmt.Errorf("%w: %s event %d: pause must be between 0 and %v", ErrInvalidScript, s.ID, i, maxPause)
			}
		default:
			return fmt.Errorf("%w: %s event %d: unknown type %q", ErrInvalidScript, s.ID, i, ev.Kind)
		}
	}
	return nil
}

// Catalog is a concurrency-safe set of scripts keyed by id.
type Catalog struct {
	mu      sync.RWMutex
	scripts map[string]model.Script
}

// NewCatalog creates a catalog holding scripts.
func NewCatalog(scripts ...model.Script) (*Catalog, error) {
	c := &Catalog{scripts: make(map[string]model.Script)}
	for _, s := range scripts {
		if err := c.Add(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Load reads a YAML catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script catalog: %w", err)
	}

	scripts, err := Parse(data, path)
	if err != nil {
		return nil, fmt.Errorf("parse script catalog %s: %w", path, err)
	}

	return NewCatalog(scripts...)
}

// Get returns a copy of the script with the given id.
func (c *Catalog) Get(id string) (model.Script, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.scripts[id]
	if !ok {
		return model.Script{}, false
	}
	return s.Clone(), true
}

// List returns summaries of every script, sorted by id.
func (c *Catalog) List() []model.ScriptSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.ScriptSummary, 0, len(c.scripts))
	for _, s := range c.scripts {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Add validates s and stores it.
func (c *Catalog) Add(s model.Script) error {
	if err := Validate(s); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.scripts[s.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateScript, s.ID)
	}
	c.scripts[s.ID] = s.Clone()
	return nil
}

// Len returns the number of scripts.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.scripts)
}

type catalogFile struct {
	Scripts []scriptDoc `yaml:"scripts"`
}

type scriptDoc struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Events      []eventDoc `yaml:"events"`
}

// eventDoc is the YAML shorthand of a script event: exactly one key is set.
type eventDoc struct {
	Lead  *string `yaml:"lead"`
	AI    *string `yaml:"ai"`
	Pause *string `yaml:"pause"`
}

// Parse decodes YAML catalog data. source is recorded on every script.
func Parse(data []byte, source string) ([]model.Script, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	scripts := make([]model.Script, 0, len(file.Scripts))
	for _, doc := range file.Scripts {
		s := model.Script{
			ID:          doc.ID,
			Title:       doc.Title,
			Description: doc.Description,
			Events:      make([]model.ScriptEvent, 0, len(doc.Events)),
			Source:      source,
		}
		for i, ed := range doc.Events {
			ev, err := ed.event()
			if err != nil {
				return nil, fmt.Errorf("%w: %s event %d: %v", ErrInvalidScript, doc.ID, i, err)
			}
			s.Events = append(s.Events, ev)
		}
		if err := Validate(s); err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

func (d eventDoc) event() (model.ScriptEvent, error) {
	set := 0
	for _, v := range []*string{d.Lead, d.AI, d.Pause} {
		if v != nil {
			set++
		}
	}
	if set != 1 {
		return model.ScriptEvent{}, errors.New("exactly one of lead, ai or pause must be set")
	}

	switch {
	case d.Lead != nil:
		return model.LeadMessage(*d.Lead), nil
	case d.AI != nil:
		return model.AIReply(*d.AI), nil
	default:
		dur, err := parsePause(*d.Pause)
		if err != nil {
			return model.ScriptEvent{}, err
		}
		return model.Pause(dur), nil
	}
}

// parsePause accepts a Go duration ("1.5s") or a bare number of milliseconds.
func parsePause(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		// Larger values would overflow time.Duration.
		if ms < 0 || ms > maxPause.Milliseconds() {
			return 0, fmt.Errorf("pause %q out of range", v)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid pause %q", v)
	}
	return d, nil
}

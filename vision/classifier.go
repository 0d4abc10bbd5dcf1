package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/krau/picturetagger/service"
)

const (
	DefaultTemplate    = "This photo mainly features {}."
	DefaultTopPerGroup = 2

	fallbackGroup = "general"
)

var ErrVisionModel = errors.New("vision model unavailable")

// Request is what a Backend is asked to score.
type Request struct {
	Labels     []string
	Template   string // "{}" is replaced by each label
	MultiLabel bool
}

type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Backend is a zero-shot image classification capability.
type Backend interface {
	Classify(ctx context.Context, img image.Image, req Request) ([]LabelScore, error)
}

// Loader acquires a Backend. It runs at most once per Classifier.
type Loader func(ctx context.Context) (Backend, error)

type Options struct {
	ModelID     string
	Template    string
	TopPerGroup int
	Catalog     []Definition
	Load        Loader
}

// Classifier maps zero-shot backend scores onto catalog tags.
type Classifier struct {
	modelID     string
	template    string
	topPerGroup int
	prompts     []string
	byPrompt    map[string]Definition
	groupOf     map[string]string
	groupOrder  []string

	load    Loader
	mu      sync.Mutex
	loaded  bool
	backend Backend
	loadErr error
	ready   atomic.Bool // readable while a load holds mu
}

func NewClassifier(opts Options) (*Classifier, error) {
	if opts.Load == nil {
		return nil, errors.New("vision: loader is required")
	}
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	if opts.TopPerGroup <= 0 {
		opts.TopPerGroup = DefaultTopPerGroup
	}
	if len(opts.Catalog) == 0 {
		opts.Catalog = DefaultCatalog
	}

	c := &Classifier{
		modelID:     opts.ModelID,
		template:    opts.Template,
		topPerGroup: opts.TopPerGroup,
		byPrompt:    make(map[string]Definition, len(opts.Catalog)),
		groupOf:     make(map[string]string, len(opts.Catalog)),
		load:        opts.Load,
	}
	for _, d := range opts.Catalog {
		if d.Name == "" || d.Prompt == "" {
			return nil, fmt.Errorf("vision: catalog entry %q has an empty name or prompt", d.Name)
		}
		if _, dup := c.byPrompt[d.Prompt]; dup {
			return nil, fmt.Errorf("vision: duplicate prompt %q", d.Prompt)
		}
		c.byPrompt[d.Prompt] = d
		c.prompts = append(c.prompts, d.Prompt)
		c.groupOf[d.Name] = d.Group
		if !slices.Contains(c.groupOrder, d.Group) {
			c.groupOrder = append(c.groupOrder, d.Group)
		}
	}
	return c, nil
}

func (c *Classifier) ModelID() string { return c.modelID }

func (c *Classifier) Source() string { return "vision:" + c.modelID }

// Ready reports whether the backend has been loaded successfully.
func (c *Classifier) Ready() bool {
	return c.ready.Load()
}

// acquire loads the backend on first use. Concurrent callers wait for the
// one load in flight; its outcome, including failure, is kept for the life
// of the process.
func (c *Classifier) acquire(ctx context.Context) (Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		slog.Info("Loading vision model", slog.String("model", c.modelID))
		b, err := c.load(context.WithoutCancel(ctx))
		if err == nil && b == nil {
			err = errors.New("loader returned no backend")
		}
		if err != nil {
			c.loadErr = fmt.Errorf("%w: failed to load %s: %w", ErrVisionModel, c.modelID, err)
		}
		c.backend = b
		c.loaded = true
		c.ready.Store(c.loadErr == nil)
	}
	return c.backend, c.loadErr
}

// Tag implements service.VisionTagger.
func (c *Classifier) Tag(ctx context.Context, img image.Image, limit int) ([]service.TagSuggestion, error) {
	if img == nil {
		return nil, errors.New("vision: image must not be nil")
	}
	backend, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}

	outputs, err := backend.Classify(ctx, img, Request{
		Labels:     c.prompts,
		Template:   c.template,
		MultiLabel: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: inference failed: %w", ErrVisionModel, err)
	}

	source := c.Source()
	suggestions := make([]service.TagSuggestion, 0, len(outputs))
	for _, out := range outputs {
		def, ok := c.byPrompt[out.Label]
		if !ok {
			continue
		}
		suggestions = append(suggestions, service.TagSuggestion{
			Name:       def.Name,
			Confidence: max(0, min(1, out.Score)),
			Source:     source,
		})
	}

	collapsed := c.collapseByGroup(suggestions)
	if limit > 0 && len(collapsed) > limit {
		collapsed = collapsed[:limit]
	}
	return collapsed, nil
}

// collapseByGroup keeps the topPerGroup most confident suggestions of each
// group, lays groups out in catalog order with unknown groups last, then
// re-sorts the survivors by confidence.
func (c *Classifier) collapseByGroup(suggestions []service.TagSuggestion) []service.TagSuggestion {
	grouped := make(map[string][]service.TagSuggestion)
	var seen []string
	for _, s := range suggestions {
		group, ok := c.groupOf[s.Name]
		if !ok {
			group = fallbackGroup
		}
		if _, exists := grouped[group]; !exists {
			seen = append(seen, group)
		}
		grouped[group] = append(grouped[group], s)
	}
	for group, items := range grouped {
		slices.SortStableFunc(items, byConfidenceDesc)
		grouped[group] = items[:min(len(items), c.topPerGroup)]
	}

	ordered := make([]service.TagSuggestion, 0, len(suggestions))
	for _, group := range c.groupOrder {
		ordered = append(ordered, grouped[group]...)
	}
	for _, group := range seen {
		if !slices.Contains(c.groupOrder, group) {
			ordered = append(ordered, grouped[group]...)
		}
	}
	slices.SortStableFunc(ordered, byConfidenceDesc)
	return ordered
}

func byConfidenceDesc(a, b service.TagSuggestion) int {
	switch {
	case a.Confidence > b.Confidence:
		return -1
	case a.Confidence < b.Confidence:
		return 1
	}
	return 0
}

// RenderPrompt substitutes label into template.
func RenderPrompt(template, label string) string {
	if !strings.Contains(template, "{}") {
		return label
	}
	return strings.Replace(template, "{}", label, 1)
}

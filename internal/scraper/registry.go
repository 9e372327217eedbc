package scraper

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// Descriptor is a registered scraper: immutable identity plus an
// atomically swapped config and enabled flag.
type Descriptor struct {
	name        string
	displayName string
	icon        string
	plugin      Plugin

	enabled atomic.Bool
	config  atomic.Pointer[configBox]
	lastRun atomic.Pointer[time.Time]
}

type configBox struct{ cfg Config }

// Name returns the unique scraper name.
func (d *Descriptor) Name() string { return d.name }

// Plugin returns the plugin backing this descriptor.
func (d *Descriptor) Plugin() Plugin { return d.plugin }

// Enabled reports whether the scraper may run.
func (d *Descriptor) Enabled() bool { return d.enabled.Load() }

// Config returns a private copy of the current config.
func (d *Descriptor) Config() Config {
	return d.config.Load().cfg.Clone()
}

// LastRun returns the finish time of the most recent run, if any.
func (d *Descriptor) LastRun() *time.Time { return d.lastRun.Load() }

// SetLastRun records a finished run.
func (d *Descriptor) SetLastRun(t time.Time) { d.lastRun.Store(&t) }

// Summary renders the dashboard view of the descriptor.
func (d *Descriptor) Summary() model.ScraperSummary {
	s := model.ScraperSummary{
		Name:        d.name,
		DisplayName: d.displayName,
		Icon:        d.icon,
		Type:        d.plugin.Type(),
		Enabled:     d.Enabled(),
		LastRun:     d.LastRun(),
	}
	switch cfg := d.config.Load().cfg.(type) {
	case *RedditConfig:
		s.SubredditsCount = ptr(len(cfg.Subreddits))
		s.PostsPerSubreddit = ptr(cfg.PostsPerSubreddit)
		s.SortBy = cfg.SortBy
	case *TwitterConfig:
		s.SearchQueriesCount = ptr(len(cfg.SearchQueries))
		s.MaxResultsPerQuery = ptr(cfg.MaxResultsPerQuery)
		s.TimeWindow = cfg.TimeWindow
		s.HasToken = ptr(cfg.BearerToken != "")
	case *WebConfig:
		s.URLsCount = ptr(len(cfg.URLs))
	}
	return s
}

func ptr[T any](v T) *T { return &v }

// Registration describes a scraper to add to the registry.
type Registration struct {
	Name        string
	DisplayName string
	Icon        string
	Plugin      Plugin
	Config      Config
	Enabled     bool
}

// Registry holds descriptors in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]*Descriptor
	// writeMu serializes config updates so concurrent validated writes
	// cannot interleave read-modify-write.
	writeMu sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Descriptor)}
}

// Register adds a scraper. Names are unique and immutable. A nil Config
// uses the plugin default.
func (r *Registry) Register(reg Registration) (*Descriptor, error) {
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return nil, model.NewValidationError("name", "scraper name is required")
	}
	if strings.HasSuffix(name, model.AnalysisSuffix) {
		return nil, model.NewValidationError("name", "scraper name must not end in "+model.AnalysisSuffix)
	}
	if reg.Plugin == nil {
		return nil, eris.Errorf("scraper: %s has no plugin", name)
	}
	cfg := reg.Config
	if cfg == nil {
		cfg = reg.Plugin.DefaultConfig()
	}
	if cfg.Type() != reg.Plugin.Type() {
		return nil, eris.Errorf("scraper: %s config type %s does not match plugin %s", name, cfg.Type(), reg.Plugin.Type())
	}
	cfg = cfg.Clone()
	cfg.Normalize()

	desc := reg.Plugin.Describe()
	d := &Descriptor{
		name:        name,
		displayName: firstNonEmpty(reg.DisplayName, desc.DisplayName, DisplayName(name)),
		icon:        firstNonEmpty(reg.Icon, desc.Icon, reg.Plugin.Type()),
		plugin:      reg.Plugin,
	}
	d.enabled.Store(reg.Enabled)
	d.config.Store(&configBox{cfg: cfg})

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[name]; ok {
		return nil, eris.Errorf("scraper: %s already registered", name)
	}
	r.byKey[name] = d
	r.order = append(r.order, name)
	return d, nil
}

// Get returns the named descriptor or a NotFoundError.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byKey[name]
	if !ok {
		return nil, &model.NotFoundError{Kind: "scraper", Key: name}
	}
	return d, nil
}

// List returns descriptors in registration order.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byKey[n])
	}
	return out
}

// Enabled returns enabled descriptors in registration order.
func (r *Registry) Enabled() []*Descriptor {
	var out []*Descriptor
	for _, d := range r.List() {
		if d.Enabled() {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of registered scrapers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SetEnabled updates the enabled flag.
func (r *Registry) SetEnabled(name string, enabled bool) (*Descriptor, error) {
	d, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	d.enabled.Store(enabled)
	return d, nil
}

// Configure merges raw JSON onto the current config, validates the result
// and swaps it in. On any error the previous config stays in place.
func (r *Registry) Configure(name string, raw []byte) (Config, error) {
	d, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next, err := MergeConfig(d.config.Load().cfg, raw)
	if err != nil {
		return nil, err
	}
	if err := r.apply(d, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Replace validates cfg and swaps it in, for restoring persisted state.
func (r *Registry) Replace(name string, cfg Config) error {
	d, err := r.Get(name)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.apply(d, cfg.Clone())
}

func (r *Registry) apply(d *Descriptor, next Config) error {
	if next.Type() != d.plugin.Type() {
		return model.NewValidationError("", "config type %s does not match scraper type %s", next.Type(), d.plugin.Type())
	}
	next.Normalize()
	if err := next.Validate(); err != nil {
		return err
	}
	d.config.Store(&configBox{cfg: next})
	return nil
}

// DisplayName derives a human title from a scraper name.
func DisplayName(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	return cases.Title(language.English).String(strings.Join(words, " "))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

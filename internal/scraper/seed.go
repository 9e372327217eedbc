package scraper

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// SeedEntry declares a scraper in a seed file.
type SeedEntry struct {
	Name        string    `yaml:"name"`
	Type        string    `yaml:"type"`
	DisplayName string    `yaml:"display_name"`
	Icon        string    `yaml:"icon"`
	Enabled     *bool     `yaml:"enabled"`
	Config      yaml.Node `yaml:"config"`
}

type seedFile struct {
	Scrapers []SeedEntry `yaml:"scrapers"`
}

// LoadSeed reads scraper declarations from a YAML file.
func LoadSeed(path string) ([]SeedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scraper: read seed %s", path)
	}
	return ParseSeed(data)
}

// ParseSeed parses scraper declarations from YAML.
func ParseSeed(data []byte) ([]SeedEntry, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "scraper: parse seed")
	}
	seen := make(map[string]bool, len(f.Scrapers))
	for i, e := range f.Scrapers {
		if e.Name == "" {
			return nil, eris.Errorf("scraper: seed entry %d has no name", i)
		}
		if seen[e.Name] {
			return nil, eris.Errorf("scraper: seed declares %s twice", e.Name)
		}
		seen[e.Name] = true
		if e.Type == "" {
			f.Scrapers[i].Type = e.Name
		}
	}
	return f.Scrapers, nil
}

// Registration resolves a seed entry against the available plugins. The
// entry's config is layered over the plugin default.
func (e SeedEntry) Registration(plugins map[string]Plugin) (Registration, error) {
	p, ok := plugins[e.Type]
	if !ok {
		return Registration{}, eris.Errorf("scraper: seed %s has unknown type %q", e.Name, e.Type)
	}
	cfg := p.DefaultConfig()
	if e.Config.Kind != 0 {
		if err := e.Config.Decode(cfg); err != nil {
			return Registration{}, eris.Wrapf(err, "scraper: seed %s config", e.Name)
		}
	}
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return Registration{
		Name:        e.Name,
		DisplayName: e.DisplayName,
		Icon:        e.Icon,
		Plugin:      p,
		Config:      cfg,
		Enabled:     enabled,
	}, nil
}

// Package experts holds the persona catalog and the panel matcher. The
// registry is built once at startup into an immutable snapshot; nothing
// mutates it afterwards, so concurrent sessions share it freely.
package experts

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"dev.helix.panel/internal/models"
)

// Registry is an immutable snapshot of expert profiles keyed by ID.
type Registry struct {
	profiles map[string]*models.ExpertProfile
	ordered  []*models.ExpertProfile
}

// Get returns the profile with the given ID.
func (r *Registry) Get(id string) (*models.ExpertProfile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// All returns the profiles in stable ID order. Callers must not mutate the
// returned profiles.
func (r *Registry) All() []*models.ExpertProfile {
	return r.ordered
}

// Len returns the number of registered experts.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Builder assembles a registry snapshot from built-in defaults, an optional
// YAML catalog, and environment overrides, resolved in that order.
type Builder struct {
	catalogPath string
	env         func(string) string
	log         *logrus.Logger
}

// NewBuilder creates a registry builder. catalogPath may be empty.
func NewBuilder(catalogPath string, log *logrus.Logger) *Builder {
	if log == nil {
		log = logrus.New()
	}
	return &Builder{
		catalogPath: catalogPath,
		env:         os.Getenv,
		log:         log,
	}
}

// WithEnv replaces the environment lookup, for tests.
func (b *Builder) WithEnv(env func(string) string) *Builder {
	b.env = env
	return b
}

type catalogFile struct {
	Experts []models.ExpertProfile `yaml:"experts"`
}

// Build produces the immutable registry snapshot. Catalog entries merge over
// defaults by ID; new IDs extend the registry. Environment overrides are
// applied last through one explicit three-tier resolution per field.
func (b *Builder) Build() (*Registry, error) {
	merged := make(map[string]*models.ExpertProfile)
	for _, p := range defaultCatalog() {
		cp := p
		merged[p.ID] = &cp
	}

	if b.catalogPath != "" {
		data, err := os.ReadFile(b.catalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read expert catalog %s: %w", b.catalogPath, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse expert catalog %s: %w", b.catalogPath, err)
		}
		for _, entry := range file.Experts {
			if entry.ID == "" {
				return nil, fmt.Errorf("expert catalog %s contains an entry without an id", b.catalogPath)
			}
			if base, ok := merged[entry.ID]; ok {
				mergeProfile(base, entry)
			} else {
				cp := entry
				merged[entry.ID] = &cp
			}
		}
		b.log.WithField("path", b.catalogPath).Infof("Loaded expert catalog with %d entries", len(file.Experts))
	}

	for id, p := range merged {
		b.applyEnvOverrides(id, p)
		if err := validateProfile(p); err != nil {
			return nil, fmt.Errorf("invalid expert %s: %w", id, err)
		}
	}

	ordered := make([]*models.ExpertProfile, 0, len(merged))
	for _, p := range merged {
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	return &Registry{profiles: merged, ordered: ordered}, nil
}

// applyEnvOverrides resolves per-expert overrides from the environment.
// Variables follow PANEL_EXPERT_<ID>_<FIELD> with the ID upper-cased and
// dashes mapped to underscores.
func (b *Builder) applyEnvOverrides(id string, p *models.ExpertProfile) {
	prefix := "PANEL_EXPERT_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_"

	if v := b.env(prefix + "PROVIDER"); v != "" {
		p.Provider = v
	}
	if v := b.env(prefix + "MODEL"); v != "" {
		p.Model = v
	}
	if v := b.env(prefix + "TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.Temperature = f
		} else {
			b.log.WithField("expert", id).Warnf("Ignoring unparseable temperature override %q", v)
		}
	}
	if v := b.env(prefix + "DIRECTIVE"); v != "" {
		p.Directive = v
	}
}

// mergeProfile overlays non-zero catalog fields onto the default profile.
func mergeProfile(base *models.ExpertProfile, entry models.ExpertProfile) {
	if entry.Name != "" {
		base.Name = entry.Name
	}
	if entry.Title != "" {
		base.Title = entry.Title
	}
	if len(entry.Expertise) > 0 {
		base.Expertise = entry.Expertise
	}
	if len(entry.Topics) > 0 {
		base.Topics = entry.Topics
	}
	if entry.Directive != "" {
		base.Directive = entry.Directive
	}
	if entry.Provider != "" {
		base.Provider = entry.Provider
	}
	if entry.Model != "" {
		base.Model = entry.Model
	}
	if entry.Temperature != 0 {
		base.Temperature = entry.Temperature
	}
	if entry.IsCritic {
		base.IsCritic = true
	}
}

func validateProfile(p *models.ExpertProfile) error {
	if p.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(p.Expertise) == 0 {
		return fmt.Errorf("missing expertise tags")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("temperature %f out of range", p.Temperature)
	}
	return nil
}

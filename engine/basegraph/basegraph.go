// Package basegraph keeps the single full-history projection every window
// is filtered from.
package basegraph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/WessleyAI/rollwin/engine/config"
	"github.com/WessleyAI/rollwin/engine/domain"
	"github.com/WessleyAI/rollwin/engine/gds"
)

// Open validity bounds used for entities without an interval.
const (
	OpenStart = -1e18
	OpenEnd   = 1e18
)

// Property names the window filter relies on.
const (
	PropStart   = "tStart"
	PropEnd     = "tEnd"
	PropImputed = "imputedFlag"
	PropDead    = "is_dead"
)

// Spec describes the base graph and the properties it must carry.
type Spec struct {
	Name            string
	NodeLabels      []string
	RelTypes        []string
	NodeProperties  []gds.PropertyMapping
	RelProperties   []gds.PropertyMapping
	ReadConcurrency int
}

// RequiredNodeProperties returns the node property names of s.
func (s Spec) RequiredNodeProperties() []string { return names(s.NodeProperties) }

// RequiredRelProperties returns the relationship property names of s.
func (s Spec) RequiredRelProperties() []string { return names(s.RelProperties) }

func names(ms []gds.PropertyMapping) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
	}
	return out
}

// SpecFor derives the projection from the run configuration. Properties are
// only required when some enabled stage reads them.
func SpecFor(cfg *config.Config) Spec {
	nodeProps := []gds.PropertyMapping{
		{Name: PropStart, Default: OpenStart},
		{Name: PropEnd, Default: OpenEnd},
	}
	seen := map[string]bool{PropStart: true, PropEnd: true}
	add := func(m gds.PropertyMapping) {
		if seen[m.Name] {
			return
		}
		seen[m.Name] = true
		nodeProps = append(nodeProps, m)
	}

	ex := cfg.Export
	if ex.FeatureVectors || ex.FeatureBlocks {
		add(gds.PropertyMapping{Name: ex.FeatureProperty, Default: make([]float64, ex.FeatureDimension)})
	}
	if ex.FeatureVectors {
		for _, p := range ex.ExtraProperties {
			m := gds.PropertyMapping{Name: p}
			if p == PropDead {
				m.Default = 0.0
			}
			add(m)
		}
	}
	if cfg.Algorithms.HashGNN.Enabled {
		for _, p := range cfg.Algorithms.HashGNN.FeatureProperties {
			m := gds.PropertyMapping{Name: p}
			if p == ex.FeatureProperty {
				m.Default = make([]float64, ex.FeatureDimension)
			}
			add(m)
		}
	}

	relProps := []gds.PropertyMapping{
		{Name: cfg.Algorithms.WeightProperty, Default: 1.0},
		{Name: PropStart, Default: OpenStart},
		{Name: PropEnd, Default: OpenEnd},
		{Name: PropImputed, Default: 0.0},
	}
	return Spec{
		Name:            cfg.BaseGraphName,
		NodeLabels:      cfg.NodeLabels,
		RelTypes:        cfg.RelTypes,
		NodeProperties:  nodeProps,
		RelProperties:   relProps,
		ReadConcurrency: cfg.ReadConcurrency,
	}
}

// Manager ensures the base graph exists with a compatible schema.
type Manager struct {
	Spec   Spec
	Logger *slog.Logger
}

// New creates a Manager.
func New(spec Spec, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{Spec: spec, Logger: logger}
}

// Ensure returns once eng holds the base graph. An existing graph is reused
// when its schema carries every required property; otherwise, or when
// rebuild is set, it is dropped and projected again.
func (m *Manager) Ensure(ctx context.Context, eng gds.Engine, rebuild bool) error {
	name := m.Spec.Name
	if !rebuild {
		ok, err := eng.GraphExists(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			stale, err := m.stale(ctx, eng)
			if err != nil {
				return err
			}
			if stale == "" {
				m.Logger.Debug("base graph reused", "graph", name)
				return nil
			}
			m.Logger.Info("base graph is stale, rebuilding", "graph", name, "missing", stale)
		}
	}
	return m.rebuild(ctx, eng)
}

// stale describes missing properties, or returns "" when none are missing.
func (m *Manager) stale(ctx context.Context, eng gds.Engine) (string, error) {
	schema, err := eng.GraphSchema(ctx, m.Spec.Name)
	if err != nil {
		return "", err
	}
	var parts []string
	for label, props := range schema.MissingNodeProperties(m.Spec.RequiredNodeProperties()) {
		parts = append(parts, label+": "+strings.Join(props, ","))
	}
	for typ, props := range schema.MissingRelProperties(m.Spec.RequiredRelProperties()) {
		parts = append(parts, typ+": "+strings.Join(props, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; "), nil
}

func (m *Manager) rebuild(ctx context.Context, eng gds.Engine) error {
	if err := eng.Drop(ctx, m.Spec.Name); err != nil {
		return err
	}
	stats, err := eng.Project(ctx, gds.ProjectionSpec{
		Name:            m.Spec.Name,
		NodeLabels:      m.Spec.NodeLabels,
		RelTypes:        m.Spec.RelTypes,
		NodeProperties:  m.Spec.NodeProperties,
		RelProperties:   m.Spec.RelProperties,
		ReadConcurrency: m.Spec.ReadConcurrency,
	})
	if err != nil {
		return fmt.Errorf("basegraph: project %s: %w", m.Spec.Name, err)
	}
	if stats.NodeCount == 0 || stats.RelationshipCount == 0 {
		return &domain.ProjectionError{Graph: m.Spec.Name, Nodes: stats.NodeCount, Relationships: stats.RelationshipCount}
	}
	m.Logger.Info("base graph projected", "graph", m.Spec.Name,
		"nodes", stats.NodeCount, "relationships", stats.RelationshipCount)
	return nil
}

// Package dependency models which merge modules an installer consumes.
package dependency

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"

	"github.com/trly/msirepo/internal/unit"
)

// ModuleGraph links installers to the merge modules they embed.
// Edge direction: installer -> module (an MSI depends on each MSM whose
// guid appears in its ModuleSignature table).
type ModuleGraph struct {
	g graph.Graph[string, *unit.Unit]
}

// NodeID identifies a unit within the graph.
func NodeID(u *unit.Unit) string {
	return string(u.Type) + ":" + u.Key().String()
}

func normalizeGUID(guid string) string {
	return strings.ToUpper(strings.Trim(strings.TrimSpace(guid), "{}"))
}

// NewModuleGraph creates an empty graph.
func NewModuleGraph() *ModuleGraph {
	return &ModuleGraph{g: graph.New(NodeID, graph.Directed())}
}

// AddUnit ensures a unit exists in the graph.
func (mg *ModuleGraph) AddUnit(u *unit.Unit) error {
	if err := mg.g.AddVertex(u); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
		return fmt.Errorf("adding %s: %w", u, err)
	}
	return nil
}

// AddDependency records that installer embeds module.
func (mg *ModuleGraph) AddDependency(installer, module *unit.Unit) error {
	if NodeID(installer) == NodeID(module) {
		return fmt.Errorf("self-dependency is not allowed: %s", installer)
	}
	if err := mg.AddUnit(installer); err != nil {
		return err
	}
	if err := mg.AddUnit(module); err != nil {
		return err
	}
	if err := mg.g.AddEdge(NodeID(installer), NodeID(module)); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return fmt.Errorf("linking %s to %s: %w", installer, module, err)
	}
	return nil
}

// Dependencies returns the modules u embeds, sorted by node id.
func (mg *ModuleGraph) Dependencies(u *unit.Unit) ([]*unit.Unit, error) {
	adj, err := mg.g.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	edges, ok := adj[NodeID(u)]
	if !ok {
		return nil, fmt.Errorf("unknown unit: %s", u)
	}
	return mg.vertices(keys(edges))
}

// Dependents returns the installers that embed u, sorted by node id.
func (mg *ModuleGraph) Dependents(u *unit.Unit) ([]*unit.Unit, error) {
	pred, err := mg.g.PredecessorMap()
	if err != nil {
		return nil, err
	}
	edges, ok := pred[NodeID(u)]
	if !ok {
		return nil, fmt.Errorf("unknown unit: %s", u)
	}
	return mg.vertices(keys(edges))
}

// Closure returns roots together with everything reachable from them,
// sorted by node id. Each unit appears once.
func (mg *ModuleGraph) Closure(roots []*unit.Unit) ([]*unit.Unit, error) {
	seen := make(map[string]struct{})
	for _, r := range roots {
		if err := mg.AddUnit(r); err != nil {
			return nil, err
		}
		err := graph.BFS(mg.g, NodeID(r), func(id string) bool {
			seen[id] = struct{}{}
			return false
		})
		if err != nil {
			return nil, fmt.Errorf("walking dependencies of %s: %w", r, err)
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return mg.vertices(ids)
}

func (mg *ModuleGraph) vertices(ids []string) ([]*unit.Unit, error) {
	out := make([]*unit.Unit, 0, len(ids))
	for _, id := range ids {
		u, err := mg.g.Vertex(id)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BuildModuleGraph links every MSI in units to the MSMs in units whose guid
// matches one of its module signatures. GUIDs compare case-insensitively
// and without braces.
func BuildModuleGraph(units []*unit.Unit) (*ModuleGraph, error) {
	mg := NewModuleGraph()

	modules := make(map[string][]*unit.Unit)
	for _, u := range units {
		if err := mg.AddUnit(u); err != nil {
			return nil, err
		}
		if u.Type == unit.TypeMSM && u.GUID != "" {
			g := normalizeGUID(u.GUID)
			modules[g] = append(modules[g], u)
		}
	}

	for _, u := range units {
		if u.Type != unit.TypeMSI {
			continue
		}
		for _, sig := range u.ModuleSignatures {
			for _, m := range modules[normalizeGUID(sig.GUID)] {
				if err := mg.AddDependency(u, m); err != nil {
					return nil, err
				}
			}
		}
	}

	return mg, nil
}

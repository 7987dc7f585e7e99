package convert

import (
	"cmp"
	"fmt"
	"iter"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

type edgeKey struct {
	from, to int64
}

// Graph is an immutable snapshot of registered adapters.
type Graph struct {
	g          *simple.WeightedDirectedGraph
	ids        map[reflect.Type]int64
	types      []reflect.Type
	edges      map[edgeKey][]Adapter
	interfaces []reflect.Type
	logger     *zap.Logger
}

func buildGraph(adapters []Adapter, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	gr := &Graph{
		g:      simple.NewWeightedDirectedGraph(0, math.Inf(1)),
		ids:    make(map[reflect.Type]int64),
		edges:  make(map[edgeKey][]Adapter),
		logger: logger,
	}
	for _, a := range adapters {
		k := edgeKey{from: gr.node(a.Expects), to: gr.node(a.Returns)}
		gr.edges[k] = append(gr.edges[k], a)
	}
	for k, group := range gr.edges {
		slices.SortStableFunc(group, func(a, b Adapter) int {
			return cmp.Compare(a.Weight, b.Weight)
		})
		gr.g.SetWeightedEdge(gr.g.NewWeightedEdge(simple.Node(k.from), simple.Node(k.to), group[0].Weight))
	}
	return gr
}

func (gr *Graph) node(t reflect.Type) int64 {
	if id, ok := gr.ids[t]; ok {
		return id
	}
	id := int64(len(gr.types))
	gr.ids[t] = id
	gr.types = append(gr.types, t)
	gr.g.AddNode(simple.Node(id))
	if t.Kind() == reflect.Interface {
		gr.interfaces = append(gr.interfaces, t)
	}
	return id
}

// Types returns the graph's nodes in order of first registration.
func (gr *Graph) Types() []reflect.Type {
	return slices.Clone(gr.types)
}

// Edge returns the adapters registered for (from, to) in attempt order.
func (gr *Graph) Edge(from, to reflect.Type) []Adapter {
	fid, ok := gr.ids[from]
	if !ok {
		return nil
	}
	tid, ok := gr.ids[to]
	if !ok {
		return nil
	}
	return slices.Clone(gr.edges[edgeKey{from: fid, to: tid}])
}

var anyType = reflect.TypeFor[any]()

// ancestry lists t, then the registered interface types t implements in
// registration order, then any.
func (gr *Graph) ancestry(t reflect.Type) []reflect.Type {
	out := []reflect.Type{t}
	for _, iface := range gr.interfaces {
		if iface == t || iface == anyType {
			continue
		}
		if t.Implements(iface) {
			out = append(out, iface)
		}
	}
	if _, ok := gr.ids[anyType]; ok && t != anyType {
		out = append(out, anyType)
	}
	return out
}

func (gr *Graph) log() *zap.Logger {
	if gr == nil || gr.logger == nil {
		return zap.NewNop()
	}
	return gr.logger
}

func (gr *Graph) hasPath(source, target reflect.Type) bool {
	sid, ok := gr.ids[source]
	if !ok {
		return false
	}
	tid, ok := gr.ids[target]
	if !ok {
		return false
	}
	return topo.PathExistsIn(gr.g, simple.Node(sid), simple.Node(tid))
}

// paths yields the simple paths from source to target, cheapest first. The
// k shortest paths are recomputed with k = 1, 2, 4, ... only while the
// caller keeps pulling.
func (gr *Graph) paths(source, target reflect.Type) iter.Seq[[]graph.Node] {
	return func(yield func([]graph.Node) bool) {
		sid, ok := gr.ids[source]
		if !ok {
			return
		}
		tid, ok := gr.ids[target]
		if !ok {
			return
		}
		seen := make(map[string]bool)
		for k := 1; ; k *= 2 {
			found := path.YenKShortestPaths(gr.g, k, math.Inf(1), simple.Node(sid), simple.Node(tid))
			slices.SortStableFunc(found, func(a, b []graph.Node) int {
				return cmp.Compare(gr.cost(a), gr.cost(b))
			})
			for _, p := range found {
				key := pathKey(p)
				if seen[key] {
					continue
				}
				seen[key] = true
				if !yield(p) {
					return
				}
			}
			if len(found) < k {
				return
			}
		}
	}
}

func pathKey(p []graph.Node) string {
	var b strings.Builder
	for _, n := range p {
		b.WriteString(strconv.FormatInt(n.ID(), 10))
		b.WriteByte(',')
	}
	return b.String()
}

func (gr *Graph) cost(p []graph.Node) float64 {
	var total float64
	for i := 0; i+1 < len(p); i++ {
		w, _ := gr.g.Weight(p[i].ID(), p[i+1].ID())
		total += w
	}
	return total
}

// GetConverters returns the converters from source to target, cheapest
// first. Paths are searched from each ancestor of source in turn; the first
// ancestor with at least one path wins.
func GetConverters(g *Graph, source, target reflect.Type) ([]*Converter, error) {
	converters, err := g.converters(source, target)
	if err != nil {
		return nil, err
	}
	return slices.Collect(converters), nil
}

// converters is GetConverters without enumerating the paths up front.
func (gr *Graph) converters(source, target reflect.Type) (iter.Seq[*Converter], error) {
	if gr == nil || source == nil || target == nil {
		return nil, fmt.Errorf("%w: from %v to %v", ErrNoConversionPath, source, target)
	}
	for _, ancestor := range gr.ancestry(source) {
		if ancestor == target {
			c := &Converter{source: source, target: target, logger: gr.log()}
			return func(yield func(*Converter) bool) { yield(c) }, nil
		}
		if !gr.hasPath(ancestor, target) {
			continue
		}
		return func(yield func(*Converter) bool) {
			for p := range gr.paths(ancestor, target) {
				if !yield(gr.converter(source, target, p)) {
					return
				}
			}
		}, nil
	}
	return nil, fmt.Errorf("%w: from %v to %v", ErrNoConversionPath, source, target)
}

func (gr *Graph) converter(source, target reflect.Type, p []graph.Node) *Converter {
	c := &Converter{source: source, target: target, cost: gr.cost(p), logger: gr.log()}
	for i := 0; i+1 < len(p); i++ {
		c.groups = append(c.groups, gr.edges[edgeKey{from: p[i].ID(), to: p[i+1].ID()}])
		c.steps = append(c.steps, gr.types[p[i].ID()])
	}
	if len(p) > 0 {
		c.steps = append(c.steps, gr.types[p[len(p)-1].ID()])
	}
	return c
}

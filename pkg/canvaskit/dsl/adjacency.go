package dsl

import "encoding/json"

// Downstream returns the ids of nodes the given node has edges into, in edge order.
func Downstream(d *DSL, id string) []string {
	out := []string{}
	for _, e := range d.Graph.Edges {
		if e.Source == id && !contains(out, e.Target) {
			out = append(out, e.Target)
		}
	}
	return out
}

// Upstream returns the ids of nodes with edges into the given node, in edge order.
func Upstream(d *DSL, id string) []string {
	out := []string{}
	for _, e := range d.Graph.Edges {
		if e.Target == id && !contains(out, e.Source) {
			out = append(out, e.Source)
		}
	}
	return out
}

// Components derives the backend's name-keyed adjacency from the graph.
// If A->B is an edge then B is in A's Downstream and A is in B's Upstream,
// by construction.
func Components(d *DSL) map[string]Component {
	out := make(map[string]Component, len(d.Graph.Nodes))
	for _, n := range d.Graph.Nodes {
		out[n.ID] = Component{
			Obj:        componentObj(d, n),
			Downstream: Downstream(d, n.ID),
			Upstream:   Upstream(d, n.ID),
		}
	}
	return out
}

// componentObj resolves a node's backend object. The node form is the source
// of truth for parameters; a stored object only fills in what the form lacks.
func componentObj(d *DSL, n Node) ComponentObj {
	obj := d.objs[n.ID].obj
	if obj.ComponentName == "" {
		obj.ComponentName = KindOf(n.Type).ComponentName()
	}
	if obj.ComponentName == "" {
		obj.ComponentName = n.Data.Label
	}
	if n.Data.Form != nil {
		obj.Params = n.Data.Form
	}
	if obj.Params == nil {
		obj.Params = json.RawMessage(`{}`)
	}
	return obj
}

// Reachable returns the ids of nodes reachable from Begin, Begin included,
// in breadth-first order.
func Reachable(d *DSL) []string {
	begin, ok := d.Begin()
	if !ok {
		return nil
	}
	seen := map[string]bool{begin.ID: true}
	order := []string{begin.ID}
	for i := 0; i < len(order); i++ {
		for _, next := range Downstream(d, order[i]) {
			if !seen[next] {
				seen[next] = true
				order = append(order, next)
			}
		}
	}
	return order
}

// Orphans returns nodes that cannot be reached from Begin. They are legal
// while editing but will never run.
func Orphans(d *DSL) []string {
	reached := map[string]bool{}
	for _, id := range Reachable(d) {
		reached[id] = true
	}
	var out []string
	for _, n := range d.Graph.Nodes {
		if !reached[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}

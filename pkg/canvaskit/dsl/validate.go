package dsl

import (
	"fmt"
	"strings"
)

// Validate checks the standing invariants of a document:
//  1. exactly one Begin node
//  2. node ids are non-empty, whitespace-free and unique
//  3. each node passes its kind's validation
//  4. edge ids are unique and both endpoints resolve to existing nodes
//  5. no self loops, no duplicate connections, handles accepted by the node ports
//
// It returns the first violation found as a *GraphError.
func Validate(d *DSL) error {
	begins := 0
	ids := make(map[string]bool, len(d.Graph.Nodes))
	for _, n := range d.Graph.Nodes {
		if err := checkNode(n); err != nil {
			return &GraphError{Op: "validate", ID: n.ID, Reason: err.Error(), Err: ErrInvalidGraph}
		}
		if ids[n.ID] {
			return invalid("validate", n.ID, "duplicate node id")
		}
		ids[n.ID] = true
		if isBegin(n) {
			begins++
		}
	}
	switch {
	case begins == 0:
		return invalid("validate", "", "missing begin node")
	case begins > 1:
		return invalid("validate", "", fmt.Sprintf("%d begin nodes", begins))
	}

	edges := make(map[string]bool, len(d.Graph.Edges))
	for i, e := range d.Graph.Edges {
		if edges[e.ID] {
			return invalid("validate", e.ID, "duplicate edge id")
		}
		edges[e.ID] = true
		if err := checkEdge(d, e, d.Graph.Edges[:i]); err != nil {
			return &GraphError{Op: "validate", ID: e.ID, Reason: err.Error(), Err: ErrInvalidGraph}
		}
	}
	return nil
}

func checkNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("node id is empty")
	}
	if strings.ContainsAny(n.ID, " \t\n\r") {
		return fmt.Errorf("node id contains whitespace")
	}
	if n.Type == "" {
		return fmt.Errorf("node type is empty")
	}
	return KindOf(n.Type).Validate(n)
}

// checkEdge validates e against the document's nodes and the edges before it.
func checkEdge(d *DSL, e Edge, prior []Edge) error {
	src, ok := d.Node(e.Source)
	if !ok {
		return fmt.Errorf("dangling source %q", e.Source)
	}
	dst, ok := d.Node(e.Target)
	if !ok {
		return fmt.Errorf("dangling target %q", e.Target)
	}
	if e.Source == e.Target {
		return fmt.Errorf("self loop on %q", e.Source)
	}
	if !KindOf(src.Type).Ports().acceptsOutput(e.SourceHandle) {
		return fmt.Errorf("%s does not expose output handle %q", src.Type, e.SourceHandle)
	}
	if !KindOf(dst.Type).Ports().acceptsInput(e.TargetHandle) {
		return fmt.Errorf("%s does not accept input handle %q", dst.Type, e.TargetHandle)
	}
	for _, p := range prior {
		if p.Source == e.Source && p.Target == e.Target &&
			p.SourceHandle == e.SourceHandle && p.TargetHandle == e.TargetHandle {
			return fmt.Errorf("duplicate connection %s -> %s", e.Source, e.Target)
		}
	}
	return nil
}

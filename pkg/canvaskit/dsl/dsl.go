// Package dsl is the in-memory model of an agent canvas document.
//
// A DSL holds the editor graph (nodes and edges) plus opaque runtime payloads
// (messages, reference, history, path, answer) that the backend owns. Edges are
// the single source of truth for connectivity: the name-keyed component
// adjacency the backend expects is derived on demand and never stored, so the
// two views cannot drift apart.
//
// All edit functions are pure. They return a new *DSL and leave their input
// untouched, which makes a rejected edit trivially side-effect free.
package dsl

import (
	"encoding/json"
	"maps"
)

// DSL is the root canvas document.
type DSL struct {
	Graph Graph

	// Opaque runtime payloads, carried through serialization untouched.
	Messages  json.RawMessage
	Reference json.RawMessage
	History   json.RawMessage
	Path      json.RawMessage
	Answer    json.RawMessage

	// objs holds each component's backend object keyed by node id.
	objs map[string]componentEntry
	// extra preserves unknown top-level keys.
	extra map[string]json.RawMessage
}

// Graph is the editor's node/edge view.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Position is a node's canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one placed component.
type Node struct {
	ID       string
	Type     string
	Position Position
	Data     NodeData

	// Extra preserves editor fields this package does not interpret
	// (sourcePosition, width, measured, ...).
	Extra map[string]json.RawMessage
}

// NodeData is the node's "data" object.
type NodeData struct {
	Label string
	Name  string
	// Form carries the component parameters as edited in the node form.
	Form json.RawMessage

	Extra map[string]json.RawMessage
}

// Edge connects two nodes, optionally through named handles.
type Edge struct {
	ID           string
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string

	Extra map[string]json.RawMessage
}

// Component is the backend's name-keyed view of one node.
type Component struct {
	Obj        ComponentObj `json:"obj"`
	Downstream []string     `json:"downstream"`
	Upstream   []string     `json:"upstream"`
}

// ComponentObj names the backend component class and its parameters.
type ComponentObj struct {
	ComponentName string          `json:"component_name"`
	Params        json.RawMessage `json:"params"`
}

type componentEntry struct {
	obj   ComponentObj
	extra map[string]json.RawMessage
}

var emptyList = json.RawMessage(`[]`)

// CreateEmpty returns a document holding a single Begin node and no edges.
func CreateEmpty() *DSL {
	begin := Node{
		ID:       BeginID,
		Type:     TypeBegin,
		Position: Position{X: 50, Y: 200},
		Data:     NodeData{Label: "Begin", Name: "begin"},
		Extra: map[string]json.RawMessage{
			"sourcePosition": json.RawMessage(`"left"`),
			"targetPosition": json.RawMessage(`"right"`),
		},
	}
	return &DSL{
		Graph: Graph{Nodes: []Node{begin}, Edges: []Edge{}},
		objs: map[string]componentEntry{
			BeginID: {obj: ComponentObj{ComponentName: "Begin", Params: json.RawMessage(`{}`)}},
		},
		Messages:  emptyList,
		Reference: emptyList,
		History:   emptyList,
		Path:      emptyList,
		Answer:    emptyList,
	}
}

// Node returns the node with the given id.
func (d *DSL) Node(id string) (Node, bool) {
	if i := d.nodeIndex(id); i >= 0 {
		return d.Graph.Nodes[i], true
	}
	return Node{}, false
}

// Edge returns the edge with the given id.
func (d *DSL) Edge(id string) (Edge, bool) {
	for _, e := range d.Graph.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return Edge{}, false
}

// Begin returns the Begin node. ok is false only for documents that were
// never validated.
func (d *DSL) Begin() (Node, bool) {
	for _, n := range d.Graph.Nodes {
		if isBegin(n) {
			return n, true
		}
	}
	return Node{}, false
}

func (d *DSL) nodeIndex(id string) int {
	for i, n := range d.Graph.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the document structure. Raw payloads are
// shared; they are treated as immutable everywhere in this package.
func (d *DSL) Clone() *DSL {
	out := &DSL{
		Messages:  d.Messages,
		Reference: d.Reference,
		History:   d.History,
		Path:      d.Path,
		Answer:    d.Answer,
		extra:     maps.Clone(d.extra),
		objs:      make(map[string]componentEntry, len(d.objs)),
	}
	out.Graph.Nodes = make([]Node, len(d.Graph.Nodes))
	for i, n := range d.Graph.Nodes {
		out.Graph.Nodes[i] = n.clone()
	}
	out.Graph.Edges = make([]Edge, len(d.Graph.Edges))
	for i, e := range d.Graph.Edges {
		e.Extra = maps.Clone(e.Extra)
		out.Graph.Edges[i] = e
	}
	for k, v := range d.objs {
		v.extra = maps.Clone(v.extra)
		out.objs[k] = v
	}
	return out
}

func (n Node) clone() Node {
	n.Extra = maps.Clone(n.Extra)
	n.Data.Extra = maps.Clone(n.Data.Extra)
	return n
}

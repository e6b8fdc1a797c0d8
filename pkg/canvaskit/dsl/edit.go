package dsl

import (
	"strings"

	"github.com/google/uuid"
)

// NewNodeID returns a fresh node id of the form "Component:xxxxxxxx".
func NewNodeID(componentName string) string {
	return componentName + ":" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// AddNode returns a copy of d with n appended.
// Fails with ErrInvalidGraph if n is malformed, duplicates an id, or would
// introduce a second Begin node.
func AddNode(d *DSL, n Node) (*DSL, error) {
	if err := checkNode(n); err != nil {
		return nil, &GraphError{Op: "add_node", ID: n.ID, Reason: err.Error(), Err: ErrInvalidGraph}
	}
	if d.nodeIndex(n.ID) >= 0 {
		return nil, invalid("add_node", n.ID, "duplicate node id")
	}
	if isBegin(n) {
		if _, ok := d.Begin(); ok {
			return nil, invalid("add_node", n.ID, "graph already has a begin node")
		}
	}

	out := d.Clone()
	out.Graph.Nodes = append(out.Graph.Nodes, n.clone())
	return out, nil
}

// RemoveNode returns a copy of d without the node and without every edge that
// references it. Removing the Begin node fails with ErrInvalidGraph.
func RemoveNode(d *DSL, id string) (*DSL, error) {
	i := d.nodeIndex(id)
	if i < 0 {
		return nil, &GraphError{Op: "remove_node", ID: id, Reason: "no such node", Err: ErrNodeNotFound}
	}
	if isBegin(d.Graph.Nodes[i]) {
		return nil, invalid("remove_node", id, "cannot remove the begin node")
	}

	out := d.Clone()
	out.Graph.Nodes = append(out.Graph.Nodes[:i], out.Graph.Nodes[i+1:]...)
	edges := out.Graph.Edges[:0]
	for _, e := range out.Graph.Edges {
		if e.Source != id && e.Target != id {
			edges = append(edges, e)
		}
	}
	out.Graph.Edges = edges
	delete(out.objs, id)
	return out, nil
}

// ConnectEdge returns a copy of d with e added. An empty e.ID is filled with
// the editor's generated id. Fails with ErrInvalidGraph on a dangling
// endpoint, self loop, duplicate connection, or a handle the node does not
// expose.
func ConnectEdge(d *DSL, e Edge) (*DSL, error) {
	if e.ID == "" {
		e.ID = edgeID(e)
	}
	if _, exists := d.Edge(e.ID); exists {
		return nil, invalid("connect", e.ID, "duplicate edge id")
	}
	if err := checkEdge(d, e, d.Graph.Edges); err != nil {
		return nil, &GraphError{Op: "connect", ID: e.ID, Reason: err.Error(), Err: ErrInvalidGraph}
	}

	out := d.Clone()
	out.Graph.Edges = append(out.Graph.Edges, e)
	return out, nil
}

// DisconnectEdge returns a copy of d without the edge.
func DisconnectEdge(d *DSL, edgeID string) (*DSL, error) {
	for i, e := range d.Graph.Edges {
		if e.ID != edgeID {
			continue
		}
		out := d.Clone()
		out.Graph.Edges = append(out.Graph.Edges[:i], out.Graph.Edges[i+1:]...)
		return out, nil
	}
	return nil, &GraphError{Op: "disconnect", ID: edgeID, Reason: "no such edge", Err: ErrEdgeNotFound}
}

// UpdateNodeData returns a copy of d with fn applied to the node's data.
// Structure (type, id, edges) cannot change through this call.
func UpdateNodeData(d *DSL, id string, fn func(*NodeData)) (*DSL, error) {
	i := d.nodeIndex(id)
	if i < 0 {
		return nil, &GraphError{Op: "update_node", ID: id, Reason: "no such node", Err: ErrNodeNotFound}
	}
	out := d.Clone()
	n := &out.Graph.Nodes[i]
	fn(&n.Data)
	if err := KindOf(n.Type).Validate(*n); err != nil {
		return nil, &GraphError{Op: "update_node", ID: id, Reason: err.Error(), Err: ErrInvalidGraph}
	}
	return out, nil
}

// MoveNode returns a copy of d with the node at a new position.
func MoveNode(d *DSL, id string, pos Position) (*DSL, error) {
	i := d.nodeIndex(id)
	if i < 0 {
		return nil, &GraphError{Op: "move_node", ID: id, Reason: "no such node", Err: ErrNodeNotFound}
	}
	out := d.Clone()
	out.Graph.Nodes[i].Position = pos
	return out, nil
}

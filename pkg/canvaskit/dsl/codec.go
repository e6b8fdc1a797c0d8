package dsl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Serialize encodes the document in the backend's DSL JSON shape. The
// components map is derived from the graph at encode time.
func Serialize(d *DSL) ([]byte, error) {
	top := make(map[string]any, len(d.extra)+7)
	for k, v := range d.extra {
		top[k] = v
	}
	top["graph"] = d.Graph
	top["components"] = componentsJSON(d)
	for key, raw := range map[string]json.RawMessage{
		"messages":  d.Messages,
		"reference": d.Reference,
		"history":   d.History,
		"path":      d.Path,
		"answer":    d.Answer,
	} {
		if raw != nil {
			top[key] = raw
		}
	}
	data, err := marshal(top)
	if err != nil {
		return nil, fmt.Errorf("encode dsl: %w", err)
	}
	return data, nil
}

// Deserialize decodes and validates a DSL document.
//
// Stored upstream/downstream arrays are not trusted: adjacency is always
// rebuilt from the edge list. Documents authored without an editor graph
// (components only) get nodes and edges synthesized from their components.
func Deserialize(data []byte) (*DSL, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	d := &DSL{objs: map[string]componentEntry{}}
	var comps map[string]rawComponent
	for key, raw := range top {
		switch key {
		case "graph":
			if err := json.Unmarshal(raw, &d.Graph); err != nil {
				return nil, fmt.Errorf("%w: graph: %v", ErrDecode, err)
			}
		case "components":
			if err := json.Unmarshal(raw, &comps); err != nil {
				return nil, fmt.Errorf("%w: components: %v", ErrDecode, err)
			}
		case "messages":
			d.Messages = raw
		case "reference":
			d.Reference = raw
		case "history":
			d.History = raw
		case "path":
			d.Path = raw
		case "answer":
			d.Answer = raw
		default:
			if d.extra == nil {
				d.extra = map[string]json.RawMessage{}
			}
			d.extra[key] = raw
		}
	}
	if d.Graph.Nodes == nil {
		d.Graph.Nodes = []Node{}
	}
	if d.Graph.Edges == nil {
		d.Graph.Edges = []Edge{}
	}

	if len(d.Graph.Nodes) == 0 && len(comps) > 0 {
		synthesizeGraph(d, comps)
	} else {
		for name, c := range comps {
			if d.nodeIndex(name) < 0 {
				return nil, invalid("load", name, "component has no matching node")
			}
			d.objs[name] = componentEntry{obj: c.Obj, extra: c.extra}
		}
	}

	for i := range d.Graph.Edges {
		if d.Graph.Edges[i].ID == "" {
			d.Graph.Edges[i].ID = edgeID(d.Graph.Edges[i])
		}
	}

	if err := Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Hash returns a content hash of the editable part of the document (graph and
// components). Runtime payloads are excluded because the backend rewrites them
// on every run.
func Hash(d *DSL) (uint64, error) {
	data, err := marshal(map[string]any{
		"graph":      d.Graph,
		"components": componentsJSON(d),
	})
	if err != nil {
		return 0, fmt.Errorf("hash dsl: %w", err)
	}
	return xxhash.Sum64(data), nil
}

func synthesizeGraph(d *DSL, comps map[string]rawComponent) {
	names := make([]string, 0, len(comps))
	for name := range comps {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		c := comps[name]
		kind := KindForComponent(c.Obj.ComponentName)
		d.Graph.Nodes = append(d.Graph.Nodes, Node{
			ID:       name,
			Type:     kind.Type(),
			Position: Position{X: float64(i) * 250, Y: 200},
			Data:     NodeData{Label: c.Obj.ComponentName, Name: name, Form: c.Obj.Params},
		})
		d.objs[name] = componentEntry{obj: c.Obj, extra: c.extra}
	}
	for _, name := range names {
		for _, target := range comps[name].Downstream {
			if _, ok := comps[target]; !ok {
				continue
			}
			e := Edge{Source: name, Target: target}
			e.ID = edgeID(e)
			d.Graph.Edges = append(d.Graph.Edges, e)
		}
	}
}

// edgeID follows the editor's naming for generated edges.
func edgeID(e Edge) string {
	return "xy-edge__" + e.Source + e.SourceHandle + "-" + e.Target + e.TargetHandle
}

type rawComponent struct {
	Obj        ComponentObj
	Downstream []string
	Upstream   []string
	extra      map[string]json.RawMessage
}

func (c *rawComponent) UnmarshalJSON(data []byte) error {
	extra, known, err := splitExtra(data, "obj", "downstream", "upstream")
	if err != nil {
		return err
	}
	if raw, ok := known["obj"]; ok {
		if err := json.Unmarshal(raw, &c.Obj); err != nil {
			return err
		}
	}
	if raw, ok := known["downstream"]; ok {
		if err := json.Unmarshal(raw, &c.Downstream); err != nil {
			return err
		}
	}
	if raw, ok := known["upstream"]; ok {
		if err := json.Unmarshal(raw, &c.Upstream); err != nil {
			return err
		}
	}
	c.extra = extra
	return nil
}

func componentsJSON(d *DSL) map[string]map[string]any {
	comps := Components(d)
	out := make(map[string]map[string]any, len(comps))
	for name, c := range comps {
		entry := map[string]any{}
		for k, v := range d.objs[name].extra {
			entry[k] = v
		}
		entry["obj"] = c.Obj
		entry["downstream"] = c.Downstream
		entry["upstream"] = c.Upstream
		out[name] = entry
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (n Node) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(n.Extra, map[string]any{
		"id":       n.ID,
		"type":     n.Type,
		"position": n.Position,
		"data":     n.Data,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Node) UnmarshalJSON(data []byte) error {
	extra, known, err := splitExtra(data, "id", "type", "position", "data")
	if err != nil {
		return err
	}
	if err := decodeKnown(known, map[string]any{
		"id":       &n.ID,
		"type":     &n.Type,
		"position": &n.Position,
		"data":     &n.Data,
	}); err != nil {
		return err
	}
	n.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d NodeData) MarshalJSON() ([]byte, error) {
	known := map[string]any{
		"label": d.Label,
		"name":  d.Name,
	}
	if d.Form != nil {
		known["form"] = d.Form
	}
	return encodeWithExtra(d.Extra, known)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *NodeData) UnmarshalJSON(data []byte) error {
	extra, known, err := splitExtra(data, "label", "name", "form")
	if err != nil {
		return err
	}
	if err := decodeKnown(known, map[string]any{
		"label": &d.Label,
		"name":  &d.Name,
	}); err != nil {
		return err
	}
	if raw, ok := known["form"]; ok {
		d.Form = raw
	}
	d.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e Edge) MarshalJSON() ([]byte, error) {
	known := map[string]any{
		"id":     e.ID,
		"source": e.Source,
		"target": e.Target,
	}
	if e.SourceHandle != "" {
		known["sourceHandle"] = e.SourceHandle
	}
	if e.TargetHandle != "" {
		known["targetHandle"] = e.TargetHandle
	}
	return encodeWithExtra(e.Extra, known)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Edge) UnmarshalJSON(data []byte) error {
	extra, known, err := splitExtra(data, "id", "source", "target", "sourceHandle", "targetHandle")
	if err != nil {
		return err
	}
	if err := decodeKnown(known, map[string]any{
		"id":           &e.ID,
		"source":       &e.Source,
		"target":       &e.Target,
		"sourceHandle": &e.SourceHandle,
		"targetHandle": &e.TargetHandle,
	}); err != nil {
		return err
	}
	e.Extra = extra
	return nil
}

func encodeWithExtra(extra map[string]json.RawMessage, known map[string]any) ([]byte, error) {
	out := make(map[string]any, len(extra)+len(known))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range known {
		out[k] = v
	}
	return marshal(out)
}

// marshal encodes v without HTML escaping so opaque payloads keep their
// bytes across a round trip.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// splitExtra separates the named keys from everything else in a JSON object.
func splitExtra(data []byte, keys ...string) (extra, known map[string]json.RawMessage, err error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, nil, err
	}
	known = make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := all[k]; ok {
			known[k] = v
			delete(all, k)
		}
	}
	if len(all) > 0 {
		extra = all
	}
	return extra, known, nil
}

func decodeKnown(known map[string]json.RawMessage, targets map[string]any) error {
	for k, dst := range targets {
		raw, ok := known[k]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
	}
	return nil
}

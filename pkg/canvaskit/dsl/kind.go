package dsl

import (
	"fmt"
	"sort"
	"sync"
)

// Kind describes one node variant. Every node type the editor can place is
// backed by a Kind so validation and port checks live in one place instead of
// being switched on throughout callers.
type Kind interface {
	// Type is the node's "type" field in the graph (e.g. "beginNode").
	Type() string

	// ComponentName is the backend component class (e.g. "Begin").
	ComponentName() string

	// Validate checks type-specific node fields.
	Validate(n Node) error

	// Ports describes which handles accept edges.
	Ports() Ports
}

// Ports constrains the handles an edge may attach to.
// A nil handle list accepts any handle id, including the empty default handle.
type Ports struct {
	Inputs  []string
	Outputs []string

	// NoInput rejects every incoming edge.
	NoInput bool
}

func (p Ports) acceptsInput(handle string) bool {
	if p.NoInput {
		return false
	}
	return p.Inputs == nil || contains(p.Inputs, handle)
}

func (p Ports) acceptsOutput(handle string) bool {
	return p.Outputs == nil || contains(p.Outputs, handle)
}

// Node types known to the builder.
const (
	TypeBegin         = "beginNode"
	TypeAnswer        = "answerNode"
	TypeGenerate      = "generateNode"
	TypeRetrieval     = "retrievalNode"
	TypeMCP           = "mcpNode"
	TypePhotoDescribe = "photoDescribeNode"
	TypeOperator      = "operatorNode"
)

// BeginID is the id CreateEmpty gives the Begin node.
const BeginID = "begin"

type simpleKind struct {
	typ       string
	component string
	ports     Ports
	validate  func(Node) error
}

func (k simpleKind) Type() string          { return k.typ }
func (k simpleKind) ComponentName() string { return k.component }
func (k simpleKind) Ports() Ports          { return k.ports }

func (k simpleKind) Validate(n Node) error {
	if k.validate == nil {
		return nil
	}
	return k.validate(n)
}

// operatorKind is the fallback for node types this package has no entry for.
// The component name is taken from the node label.
type operatorKind struct{ typ string }

func (k operatorKind) Type() string          { return k.typ }
func (k operatorKind) ComponentName() string { return "" }
func (k operatorKind) Ports() Ports          { return Ports{} }
func (k operatorKind) Validate(Node) error   { return nil }

var (
	kindsMu sync.RWMutex
	kinds   = map[string]Kind{}
)

func init() {
	for _, k := range []Kind{
		simpleKind{typ: TypeBegin, component: "Begin", ports: Ports{NoInput: true}},
		simpleKind{typ: TypeAnswer, component: "Answer"},
		simpleKind{typ: TypeGenerate, component: "Generate"},
		simpleKind{typ: TypeRetrieval, component: "Retrieval"},
		simpleKind{typ: TypePhotoDescribe, component: "PhotoDescribe"},
		simpleKind{
			typ:       TypeMCP,
			component: "MCP",
			// Both MCP handles are sources; a tool node is wired into its consumer.
			ports: Ports{Outputs: []string{"b", "c"}, NoInput: true},
			validate: func(n Node) error {
				if n.Data.Name == "" {
					return fmt.Errorf("mcp node requires a name")
				}
				return nil
			},
		},
	} {
		kinds[k.Type()] = k
	}
}

// RegisterKind adds or replaces a node kind.
// Panics if k is nil or its type is empty.
func RegisterKind(k Kind) {
	if k == nil || k.Type() == "" {
		panic("dsl: kind must have a type")
	}
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[k.Type()] = k
}

// KindOf returns the kind registered for a node type.
// Unknown types resolve to a generic operator kind so newer documents still load.
func KindOf(typ string) Kind {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	if k, ok := kinds[typ]; ok {
		return k
	}
	return operatorKind{typ: typ}
}

// KindForComponent finds the kind whose component name matches.
// Returns a generic operator kind when none does.
func KindForComponent(component string) Kind {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	for _, k := range kinds {
		if k.ComponentName() == component {
			return k
		}
	}
	return operatorKind{typ: TypeOperator}
}

// Kinds returns the registered node types, sorted.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	out := make([]string, 0, len(kinds))
	for t := range kinds {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func isBegin(n Node) bool {
	return n.Type == TypeBegin
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

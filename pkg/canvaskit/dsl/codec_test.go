package dsl_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/dsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compactRaw compares raw JSON fields ignoring insignificant whitespace.
var compactRaw = cmp.Transformer("compact", func(r json.RawMessage) string {
	var b bytes.Buffer
	if err := json.Compact(&b, r); err != nil {
		return string(r)
	}
	return b.String()
})

const editorDoc = `{
  "graph": {
    "nodes": [
      {"id": "begin", "type": "beginNode", "position": {"x": 50, "y": 200},
       "data": {"label": "Begin", "name": "begin", "form": {"prologue": "Hi!"}},
       "sourcePosition": "left", "targetPosition": "right", "width": 200},
      {"id": "Answer:China", "type": "answerNode", "position": {"x": 300, "y": 200},
       "data": {"label": "Answer", "name": "dialog", "color": "blue"}}
    ],
    "edges": [
      {"id": "e1", "source": "begin", "target": "Answer:China", "type": "buttonEdge", "markerEnd": "logo"}
    ]
  },
  "components": {
    "begin": {"obj": {"component_name": "Begin", "params": {"prologue": "Hi!"}},
              "downstream": ["Answer:China"], "upstream": [], "parent_id": ""},
    "Answer:China": {"obj": {"component_name": "Answer", "params": {}},
                     "downstream": [], "upstream": ["begin"]}
  },
  "messages": [{"role": "user", "content": "hello", "id": "m1"}],
  "reference": [{"chunks": []}],
  "history": [["user", "hello"]],
  "path": [["begin"]],
  "answer": [],
  "embed_id": "abc"
}`

// TestRoundTrip verifies serialize/deserialize is lossless, opaque payloads included.
func TestRoundTrip(t *testing.T) {
	d, err := dsl.Deserialize([]byte(editorDoc))
	require.NoError(t, err)

	out, err := dsl.Serialize(d)
	require.NoError(t, err)
	assert.JSONEq(t, editorDoc, string(out))

	again, err := dsl.Deserialize(out)
	require.NoError(t, err)
	if diff := cmp.Diff(d.Graph, again.Graph, compactRaw); diff != "" {
		t.Errorf("graph changed across round trip (-want +got):\n%s", diff)
	}
	assert.JSONEq(t, string(d.Messages), string(again.Messages))
}

// TestRoundTrip_KeepsMarkup verifies payload text is not HTML-escaped.
func TestRoundTrip_KeepsMarkup(t *testing.T) {
	doc := `{"graph":{"nodes":[{"id":"begin","type":"beginNode","position":{"x":0,"y":0},` +
		`"data":{"label":"Begin","name":"begin","note":"<i>&</i>"}}],"edges":[]},` +
		`"messages":[{"content":"a <b> & c"}]}`
	d, err := dsl.Deserialize([]byte(doc))
	require.NoError(t, err)

	out, err := dsl.Serialize(d)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"messages":[{"content":"a <b> & c"}]`)
	assert.Contains(t, string(out), `"note":"<i>&</i>"`)

	again, err := dsl.Deserialize(out)
	require.NoError(t, err)
	assert.Equal(t, `[{"content":"a <b> & c"}]`, string(again.Messages))
}

func TestRoundTrip_CreateEmpty(t *testing.T) {
	data, err := dsl.Serialize(dsl.CreateEmpty())
	require.NoError(t, err)

	d, err := dsl.Deserialize(data)
	require.NoError(t, err)
	again, err := dsl.Serialize(d)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

// TestDeserialize_AdjacencyRebuiltFromEdges checks stale stored adjacency is ignored.
func TestDeserialize_AdjacencyRebuiltFromEdges(t *testing.T) {
	doc := `{
	  "graph": {"nodes": [
	    {"id": "begin", "type": "beginNode", "position": {"x": 0, "y": 0}, "data": {"label": "Begin", "name": "begin"}},
	    {"id": "Answer:1", "type": "answerNode", "position": {"x": 0, "y": 0}, "data": {"label": "Answer", "name": "a"}}
	  ], "edges": []},
	  "components": {"begin": {"obj": {"component_name": "Begin", "params": {}}, "downstream": ["Answer:1"], "upstream": []}}
	}`
	d, err := dsl.Deserialize([]byte(doc))
	require.NoError(t, err)

	assert.Empty(t, dsl.Components(d)["begin"].Downstream)
}

func TestDeserialize_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{"no begin", `{"graph":{"nodes":[{"id":"a","type":"answerNode","position":{"x":0,"y":0},"data":{}}],"edges":[]}}`},
		{"two begins", `{"graph":{"nodes":[
			{"id":"a","type":"beginNode","position":{"x":0,"y":0},"data":{}},
			{"id":"b","type":"beginNode","position":{"x":0,"y":0},"data":{}}],"edges":[]}}`},
		{"dangling edge", `{"graph":{"nodes":[{"id":"begin","type":"beginNode","position":{"x":0,"y":0},"data":{}}],
			"edges":[{"id":"e","source":"begin","target":"ghost"}]}}`},
		{"component without node", `{"graph":{"nodes":[{"id":"begin","type":"beginNode","position":{"x":0,"y":0},"data":{}}],"edges":[]},
			"components":{"ghost":{"obj":{"component_name":"Answer","params":{}},"downstream":[],"upstream":[]}}}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := dsl.Deserialize([]byte(tc.doc))
			assert.ErrorIs(t, err, dsl.ErrInvalidGraph)
		})
	}

	_, err := dsl.Deserialize([]byte(`{not json`))
	assert.ErrorIs(t, err, dsl.ErrDecode)
}

// TestDeserialize_ComponentsOnly builds a graph for backend-authored documents.
func TestDeserialize_ComponentsOnly(t *testing.T) {
	doc := `{
	  "components": {
	    "begin": {"obj": {"component_name": "Begin", "params": {}}, "downstream": ["answer_0"], "upstream": []},
	    "answer_0": {"obj": {"component_name": "Answer", "params": {}}, "downstream": ["retrieval_0"], "upstream": ["begin"]},
	    "retrieval_0": {"obj": {"component_name": "Retrieval", "params": {"top_n": 8}}, "downstream": [], "upstream": ["answer_0"]}
	  },
	  "history": [], "messages": [], "reference": [], "path": [], "answer": []
	}`
	d, err := dsl.Deserialize([]byte(doc))
	require.NoError(t, err)

	require.Len(t, d.Graph.Nodes, 3)
	require.Len(t, d.Graph.Edges, 2)
	n, ok := d.Node("retrieval_0")
	require.True(t, ok)
	assert.Equal(t, dsl.TypeRetrieval, n.Type)
	assert.Equal(t, []string{"begin", "answer_0", "retrieval_0"}, dsl.Reachable(d))

	var params map[string]any
	require.NoError(t, json.Unmarshal(dsl.Components(d)["retrieval_0"].Obj.Params, &params))
	assert.Equal(t, float64(8), params["top_n"])
}

func TestHash(t *testing.T) {
	a := dsl.CreateEmpty()
	b := dsl.CreateEmpty()
	b.Messages = json.RawMessage(`[{"role":"user"}]`)

	ha, err := dsl.Hash(a)
	require.NoError(t, err)
	hb, err := dsl.Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "runtime payloads must not affect the hash")

	c, err := dsl.AddNode(a, node("Answer:1", dsl.TypeAnswer))
	require.NoError(t, err)
	hc, err := dsl.Hash(c)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

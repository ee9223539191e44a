package dump

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/apw/internal/graph"
)

func diamond() graph.Snapshot {
	return graph.Snapshot{
		Name:  "Graph",
		Roots: []string{"A", "E"},
		Nodes: []string{"A", "B", "C", "D", "E"},
		Children: map[string][]string{
			"A": {"B", "C"},
			"B": {"D"},
			"C": {"D"},
			"D": {},
			"E": {},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats {
		got, err := ParseFormat(string(f))
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseFormat("svg")
	assert.ErrorContains(t, err, `unknown dump format "svg"`)
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Text, diamond()))

	want := `Graph:
== root
  A
    B
      D
    C
      D
== root
  E
`
	assert.Equal(t, want, buf.String())
}

func TestWriteGraphviz(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Graphviz, diamond()))

	want := `digraph G {
    "A";
    "A" -> "B";
    "A" -> "C";
    "B";
    "B" -> "D";
    "D";
    "C";
    "C" -> "D";
    "E";
}
`
	assert.Equal(t, want, buf.String())
}

func TestWriteJSON(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(graph.NewInert("B"), nil, nil))
	require.NoError(t, g.AddNode(graph.NewInert("A"), nil, []string{"B"}))

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, JSON, g.Snapshot()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "Graph", got["name"])
	assert.Equal(t, []any{"A"}, got["roots"])
	assert.Equal(t, []any{
		map[string]any{"id": "B", "children": []any{}},
		map[string]any{"id": "A", "children": []any{"B"}},
	}, got["nodes"])
}

func TestWritePlan(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(graph.NewInert("B"), nil, nil))
	require.NoError(t, g.AddNode(graph.NewInert("A"), nil, []string{"B"}))
	p := g.CreatePlan("A")

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Text, p.Snapshot()))
	assert.Equal(t, "Plan["+p.ID()+"]:\n== root\n  "+p.Root()+"\n    A\n      B\n", buf.String())
}

func TestWriteUnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, Format("svg"), diamond()))
}

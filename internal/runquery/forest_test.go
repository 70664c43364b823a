package runquery

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/tracelens/internal/model"
)

func run(id string, parent string) *model.Run {
	r := &model.Run{RunId: id, RunType: "chain", TraceId: model.StringPtr("T")}
	if parent != "" {
		r.ParentRunId = model.StringPtr(parent)
	}
	return r
}

func runIds(nodes []*RunNode) []string {
	out := []string{}
	for _, n := range nodes {
		out = append(out, n.RunId)
	}
	return out
}

func TestBuildForest(t *testing.T) {
	tests := map[string]struct {
		runs          []*model.Run
		expectedRoots []string
		children      map[string][]string
	}{
		"chain": {
			runs:          []*model.Run{run("root", ""), run("c1", "root"), run("c2", "c1")},
			expectedRoots: []string{"root"},
			children:      map[string][]string{"root": {"c1"}, "c1": {"c2"}, "c2": {}},
		},
		"child listed before parent": {
			runs:          []*model.Run{run("c1", "root"), run("root", ""), run("c2", "root")},
			expectedRoots: []string{"root"},
			children:      map[string][]string{"root": {"c1", "c2"}},
		},
		"missing parent becomes root": {
			runs:          []*model.Run{run("root", ""), run("orphan", "gone")},
			expectedRoots: []string{"root", "orphan"},
			children:      map[string][]string{"root": {}, "orphan": {}},
		},
		"self parent omitted": {
			runs:          []*model.Run{run("root", ""), run("loop", "loop")},
			expectedRoots: []string{"root"},
			children:      map[string][]string{"root": {}},
		},
		"two cycle omitted": {
			runs:          []*model.Run{run("a", "b"), run("b", "a"), run("root", "")},
			expectedRoots: []string{"root"},
			children:      map[string][]string{"root": {}},
		},
		"duplicate run ids keep first": {
			runs:          []*model.Run{run("root", ""), run("root", ""), run("c1", "root")},
			expectedRoots: []string{"root"},
			children:      map[string][]string{"root": {"c1"}},
		},
		"empty": {
			runs:          nil,
			expectedRoots: []string{},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			roots := BuildForest(tc.runs)
			assert.Equal(t, tc.expectedRoots, runIds(roots))

			nodes := map[string]*RunNode{}
			var walk func([]*RunNode)
			walk = func(ns []*RunNode) {
				for _, n := range ns {
					nodes[n.RunId] = n
					walk(n.Children)
				}
			}
			walk(roots)
			for id, expected := range tc.children {
				require.Contains(t, nodes, id)
				assert.Equal(t, expected, runIds(nodes[id].Children), id)
			}
		})
	}
}

func TestBuildForest_Json(t *testing.T) {
	roots := BuildForest([]*model.Run{run("root", ""), run("c1", "root")})

	bytes, err := json.Marshal(roots)
	require.NoError(t, err)

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "root", decoded[0]["run_id"])
	assert.Equal(t, "T", decoded[0]["trace_id"])

	children, ok := decoded[0]["children"].([]interface{})
	require.True(t, ok)
	require.Len(t, children, 1)
	child := children[0].(map[string]interface{})
	assert.Equal(t, "c1", child["run_id"])
	assert.Equal(t, "root", child["parent_run_id"])
	assert.Equal(t, []interface{}{}, child["children"])
}

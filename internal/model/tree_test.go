package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTree(t *testing.T, s string) *Tree {
	tree, err := ParseTree([]byte(s))
	require.NoError(t, err)
	return tree
}

func encode(t *testing.T, v interface{}) string {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestTree_PreservesKeyOrder(t *testing.T) {
	in := `{"zeta":1,"alpha":{"y":true,"b":null},"mid":["x",{"k":1.50}],"n":12345678901234567890}`
	tree := mustTree(t, in)
	assert.Equal(t, []string{"zeta", "alpha", "mid", "n"}, tree.Keys())
	assert.Equal(t, in, encode(t, tree))
}

func TestTree_DuplicateKeyKeepsFirstPosition(t *testing.T) {
	tree := mustTree(t, `{"a":1,"b":2,"a":3}`)
	assert.Equal(t, `{"a":3,"b":2}`, encode(t, tree))
}

func TestTree_RejectsNonObject(t *testing.T) {
	for _, in := range []string{`[]`, `"s"`, `1`, `{"a":}`} {
		_, err := ParseTree([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestTree_NilEncodesAsNull(t *testing.T) {
	var tree *Tree
	assert.Equal(t, "null", encode(t, tree))
	assert.True(t, tree.IsEmpty())
	assert.Nil(t, tree.Clone())
}

func TestTree_AsStructField(t *testing.T) {
	var event RunEvent
	require.NoError(t, json.Unmarshal([]byte(`{"id":"r1","inputs":{"q":"hi","a":1},"outputs":null}`), &event))
	assert.Equal(t, `{"q":"hi","a":1}`, encode(t, event.Inputs))
	assert.Nil(t, event.Outputs)
}

func TestDeepMerge(t *testing.T) {
	tests := map[string]struct {
		base     string
		overlay  string
		expected string
	}{
		"disjoint keys append in overlay order": {
			base:     `{"a":1}`,
			overlay:  `{"c":3,"b":2}`,
			expected: `{"a":1,"c":3,"b":2}`,
		},
		"overlay wins at leaves": {
			base:     `{"a":1,"b":{"c":1,"d":2}}`,
			overlay:  `{"b":{"d":3}}`,
			expected: `{"a":1,"b":{"c":1,"d":3}}`,
		},
		"nested merge keeps base order": {
			base:     `{"kwargs":{"model":"gpt","temperature":0}}`,
			overlay:  `{"kwargs":{"max_tokens":10,"model":"gpt-4"}}`,
			expected: `{"kwargs":{"model":"gpt-4","temperature":0,"max_tokens":10}}`,
		},
		"object replaces scalar": {
			base:     `{"a":1}`,
			overlay:  `{"a":{"b":2}}`,
			expected: `{"a":{"b":2}}`,
		},
		"scalar replaces object": {
			base:     `{"a":{"b":2}}`,
			overlay:  `{"a":"x"}`,
			expected: `{"a":"x"}`,
		},
		"arrays are leaves": {
			base:     `{"a":[1,2,3]}`,
			overlay:  `{"a":[4]}`,
			expected: `{"a":[4]}`,
		},
		"null overrides": {
			base:     `{"a":1}`,
			overlay:  `{"a":null}`,
			expected: `{"a":null}`,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			base := mustTree(t, tc.base)
			overlay := mustTree(t, tc.overlay)
			merged := DeepMerge(base, overlay)
			assert.Equal(t, tc.expected, encode(t, merged))
			// inputs are untouched
			assert.Equal(t, tc.base, encode(t, base))
			assert.Equal(t, tc.overlay, encode(t, overlay))
		})
	}
}

func TestDeepMerge_NilSides(t *testing.T) {
	tree := mustTree(t, `{"a":{"b":1}}`)
	assert.Nil(t, DeepMerge(nil, nil))
	assert.Equal(t, `{"a":{"b":1}}`, encode(t, DeepMerge(nil, tree)))
	assert.Equal(t, `{"a":{"b":1}}`, encode(t, DeepMerge(tree, nil)))

	// result must not alias the inputs
	merged := DeepMerge(nil, tree)
	nested, _ := merged.Get("a")
	nested.(*Tree).Set("b", "changed")
	assert.Equal(t, `{"a":{"b":1}}`, encode(t, tree))
}

func TestTree_ContainsFold(t *testing.T) {
	tree := mustTree(t, `{"question":"What is the Capital of France?"}`)
	assert.True(t, tree.ContainsFold("capital of"))
	assert.True(t, tree.ContainsFold("QUESTION"))
	assert.False(t, tree.ContainsFold("germany"))

	var empty *Tree
	assert.False(t, empty.ContainsFold("x"))
}

package ui

import (
	"bytes"
	"testing"

	"github.com/ethereum-optimism/infra/op-squish/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTreePrefix(t *testing.T) {
	tests := []struct {
		name         string
		depth        int
		isLast       bool
		parentIsLast []bool
		expected     string
	}{
		{"root", 0, false, nil, ""},
		{"first level middle", 1, false, nil, TreeBranch},
		{"first level last", 1, true, nil, TreeLastBranch},
		{"second level open parent", 2, true, []bool{false}, TreeContinue + TreeLastBranch},
		{"second level closed parent", 2, false, []bool{true}, TreeIndent + TreeBranch},
		{"missing parent info", 3, true, []bool{true}, TreeIndent + TreeContinue + TreeLastBranch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildTreePrefix(tt.depth, tt.isLast, tt.parentIsLast))
		})
	}
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "[PASS] Comparison (/s/tst_a/test.py:4)", ResultLabel(&types.ResultItem{
		Type: types.ResultPass, Text: "Comparison", File: "/s/tst_a/test.py", Line: 4,
	}))
	assert.Equal(t, "[LOG] hello", ResultLabel(&types.ResultItem{Type: types.ResultLog, Text: "hello"}))
}

func sampleTree() []*types.ResultItem {
	return []*types.ResultItem{
		{
			Type: types.ResultStart,
			Text: "tst_a",
			Children: []*types.ResultItem{
				{Type: types.ResultPass, Text: "one"},
				{
					Type:     types.ResultFail,
					Text:     "two",
					Children: []*types.ResultItem{{Type: types.ResultDetail, Text: "diff"}},
				},
			},
		},
		{
			Type:     types.ResultStart,
			Text:     "tst_b",
			Children: []*types.ResultItem{{Type: types.ResultPass, Text: "three"}},
		},
	}
}

func TestRenderResultTreeExpanded(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderResultTree(&buf, sampleTree(), nil))
	assert.Equal(t, "[START] tst_a\n"+
		"├── [PASS] one\n"+
		"└── [FAIL] two\n"+
		"    └── [DETAIL] diff\n"+
		"[START] tst_b\n"+
		"└── [PASS] three\n", buf.String())
}

func TestRenderResultTreeCollapsed(t *testing.T) {
	roots := sampleTree()
	var buf bytes.Buffer
	require.NoError(t, RenderResultTree(&buf, roots, func(item *types.ResultItem) bool {
		return item != roots[1]
	}))
	assert.Equal(t, "[START] tst_a\n"+
		"├── [PASS] one\n"+
		"└── [FAIL] two\n"+
		"    └── [DETAIL] diff\n"+
		"[START] tst_b\n"+
		"└── (1 entries)\n", buf.String())
}

func TestBuildBoxHeader(t *testing.T) {
	assert.Equal(t, "┌────────┐\n│ Test   │\n├────────┤\n", BuildBoxHeader("Test", 10))
	// width grows to fit the title
	assert.Equal(t, "┌────────────┐\n│ Long Title │\n├────────────┤\n", BuildBoxHeader("Long Title", 5))
}

func TestBuildBoxFooter(t *testing.T) {
	assert.Equal(t, "└────────┘\n", BuildBoxFooter(10))
}

func TestBuildBoxLine(t *testing.T) {
	assert.Equal(t, "│ Hi     │\n", BuildBoxLine("Hi", 10))
	assert.Equal(t, "│ This... │\n", BuildBoxLine("This is long", 11))
}

func TestBox(t *testing.T) {
	out := Box("Interrupted", []string{"tst_a/test.py:4"}, 24)
	assert.Equal(t,
		"┌──────────────────────┐\n"+
			"│ Interrupted          │\n"+
			"├──────────────────────┤\n"+
			"│ tst_a/test.py:4      │\n"+
			"└──────────────────────┘\n", out)
}

func TestRepeatString(t *testing.T) {
	assert.Equal(t, "", repeatString("a", 0))
	assert.Equal(t, "", repeatString("a", -1))
	assert.Equal(t, "aaa", repeatString("a", 3))
}

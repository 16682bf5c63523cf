package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ethereum-optimism/infra/op-squish/types"
)

// Tree connectors
const (
	TreeBranch     = "├── "
	TreeLastBranch = "└── "
	TreeContinue   = "│   " // parent has more siblings
	TreeIndent     = "    " // parent was last

	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxVertical    = "│"
	BoxHorizontal  = "─"
	BoxTeeRight    = "├"
	BoxTeeLeft     = "┤"
)

// BuildTreePrefix generates the prefix of a node from its depth, its
// position and the positions of its ancestors.
func BuildTreePrefix(depth int, isLast bool, parentIsLast []bool) string {
	if depth == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < depth-1; i++ {
		if i < len(parentIsLast) && parentIsLast[i] {
			b.WriteString(TreeIndent)
		} else {
			b.WriteString(TreeContinue)
		}
	}
	if isLast {
		b.WriteString(TreeLastBranch)
	} else {
		b.WriteString(TreeBranch)
	}
	return b.String()
}

// ResultLabel is the one line rendering of a report entry.
func ResultLabel(item *types.ResultItem) string {
	label := fmt.Sprintf("[%s] %s", strings.ToUpper(item.Type.String()), item.Text)
	if item.File != "" && item.Line > 0 {
		label += fmt.Sprintf(" (%s:%d)", item.File, item.Line)
	}
	return label
}

// RenderResultTree writes the result tree one item per line. Children of
// items for which expanded returns false are summarized in one line.
// A nil expanded shows everything.
func RenderResultTree(w io.Writer, roots []*types.ResultItem, expanded func(*types.ResultItem) bool) error {
	var walk func(items []*types.ResultItem, depth int, parents []bool) error
	walk = func(items []*types.ResultItem, depth int, parents []bool) error {
		for i, item := range items {
			isLast := i == len(items)-1
			if _, err := fmt.Fprintf(w, "%s%s\n", BuildTreePrefix(depth, isLast, parents), ResultLabel(item)); err != nil {
				return err
			}
			if len(item.Children) == 0 {
				continue
			}
			// the top level items sit at depth 0 without a connector
			childParents := parents
			if depth > 0 {
				childParents = append(append([]bool(nil), parents...), isLast)
			}
			if expanded != nil && !expanded(item) {
				prefix := BuildTreePrefix(depth+1, true, childParents)
				if _, err := fmt.Fprintf(w, "%s(%d entries)\n", prefix, len(item.Children)); err != nil {
					return err
				}
				continue
			}
			if err := walk(item.Children, depth+1, childParents); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(roots, 0, nil)
}

// BuildBoxHeader creates a box header with the given title and width
func BuildBoxHeader(title string, width int) string {
	titleLen := utf8.RuneCountInString(title)
	if width < titleLen+4 {
		width = titleLen + 4
	}
	padding := width - 4 - titleLen

	header := BoxTopLeft + repeatString(BoxHorizontal, width-2) + BoxTopRight + "\n"
	header += BoxVertical + " " + title + repeatString(" ", padding+1) + BoxVertical + "\n"
	header += BoxTeeRight + repeatString(BoxHorizontal, width-2) + BoxTeeLeft + "\n"
	return header
}

func BuildBoxFooter(width int) string {
	return BoxBottomLeft + repeatString(BoxHorizontal, width-2) + BoxBottomRight + "\n"
}

// BuildBoxLine creates a content line within a box, truncated to fit.
func BuildBoxLine(content string, width int) string {
	contentLen := utf8.RuneCountInString(content)
	maxContentLen := width - 4

	if contentLen > maxContentLen {
		runes := []rune(content)
		content = string(runes[:maxContentLen-3]) + "..."
		contentLen = maxContentLen
	}

	padding := maxContentLen - contentLen
	return BoxVertical + " " + content + repeatString(" ", padding+1) + BoxVertical + "\n"
}

// Box renders a titled box around lines.
func Box(title string, lines []string, width int) string {
	titleLen := utf8.RuneCountInString(title)
	if width < titleLen+4 {
		width = titleLen + 4
	}
	var b strings.Builder
	b.WriteString(BuildBoxHeader(title, width))
	for _, line := range lines {
		b.WriteString(BuildBoxLine(line, width))
	}
	b.WriteString(BuildBoxFooter(width))
	return b.String()
}

func repeatString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}

package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rendis/autoflow/pkg/schema"
)

const (
	boxGap       = 2
	maxErrorText = 28
)

var statusTags = map[schema.NodeStatus]string{
	schema.NodeStatusCompleted: "[OK]",
	schema.NodeStatusFailed:    "[FAIL]",
	schema.NodeStatusRunning:   "[RUN]",
	schema.NodeStatusSkipped:   "[SKIP]",
	schema.NodeStatusPending:   "[PEND]",
	schema.NodeStatusRetrying:  "[RETRY]",
}

// kindMarks prefix a node's id so the type reads at a glance.
var kindMarks = map[NodeKind]string{
	NodeKindAction:      "@",
	NodeKindProvider:    "*",
	NodeKindTransform:   "~",
	NodeKindConditional: "?",
	NodeKindExport:      ">",
	NodeKindCustom:      "+",
}

// RenderASCII draws one row of boxes per topological level, top to bottom,
// followed by the conditional branch edges.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	byID := make(map[string]*Node, len(model.Nodes))
	for _, n := range model.Nodes {
		byID[n.ID] = n
	}

	for i, level := range model.Levels {
		row := make([]box, 0, len(level))
		for _, id := range level {
			if n, ok := byID[id]; ok {
				row = append(row, newBox(n))
			}
		}
		width := writeRow(&b, row)
		if i < len(model.Levels)-1 && width > 0 {
			writeArrow(&b, width)
		}
	}

	writeBranches(&b, model.Edges)
	return b.String()
}

type box struct {
	lines []string
	width int
}

func newBox(n *Node) box {
	label, _, _ := strings.Cut(n.Label, "\n")
	if mark, ok := kindMarks[n.Kind]; ok {
		label = mark + " " + label
	}
	content := []string{label}

	if st := n.Status; st != nil {
		if tag, ok := statusTags[schema.NodeStatus(st.Status)]; ok {
			content = append(content, tag)
		}
		if st.RetryCount > 0 {
			content = append(content, fmt.Sprintf("retries: %d", st.RetryCount))
		}
		if st.Error != "" && schema.NodeStatus(st.Status) == schema.NodeStatusFailed {
			content = append(content, truncate(st.Error, maxErrorText))
		}
	}

	inner := 0
	for _, c := range content {
		inner = max(inner, utf8.RuneCountInString(c))
	}

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", inner+2)+"┐")
	for _, c := range content {
		lines = append(lines, "│ "+c+strings.Repeat(" ", inner-utf8.RuneCountInString(c))+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", inner+2)+"┘")
	return box{lines: lines, width: inner + 4}
}

// writeRow prints boxes side by side, top-aligned, and returns the row width.
func writeRow(b *strings.Builder, row []box) int {
	if len(row) == 0 {
		return 0
	}
	height, width := 0, boxGap*(len(row)-1)
	for _, bx := range row {
		height = max(height, len(bx.lines))
		width += bx.width
	}

	for line := 0; line < height; line++ {
		var sb strings.Builder
		for i, bx := range row {
			if i > 0 {
				sb.WriteString(strings.Repeat(" ", boxGap))
			}
			if line < len(bx.lines) {
				sb.WriteString(bx.lines[line])
			} else {
				sb.WriteString(strings.Repeat(" ", bx.width))
			}
		}
		b.WriteString(strings.TrimRight(sb.String(), " "))
		b.WriteByte('\n')
	}
	return width
}

// writeArrow centers a down arrow under a row of the given width.
func writeArrow(b *strings.Builder, width int) {
	pad := strings.Repeat(" ", width/2)
	b.WriteString(pad + "│\n")
	b.WriteString(pad + "▼\n")
}

func writeBranches(b *strings.Builder, edges []Edge) {
	header := false
	for _, e := range edges {
		if !e.Branch {
			continue
		}
		if !header {
			b.WriteString("\n--- branches ---\n")
			header = true
		}
		fmt.Fprintf(b, "  %s ─%s→ %s\n", e.From, e.Label, e.To)
	}
}

func truncate(s string, n int) string {
	s, _, _ = strings.Cut(s, "\n")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

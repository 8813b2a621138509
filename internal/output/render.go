package output

import (
	"fmt"
	"strings"

	"github.com/rendis/autoflow/internal/xjson"
)

// Supported render formats.
const (
	FormatJSON     = "json"
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// Render formats a payload for a text destination.
func Render(p Payload, format string) ([]byte, error) {
	switch format {
	case "", FormatJSON:
		data, err := xjson.MarshalIndent(p, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatText:
		text, err := plainText(p.Data)
		if err != nil {
			return nil, err
		}
		return []byte(text + "\n"), nil
	case FormatMarkdown:
		body, err := xjson.MarshalIndent(p.Data, "", "  ")
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		title := p.WorkflowName
		if title == "" {
			title = "autoflow"
		}
		fmt.Fprintf(&b, "# %s\n\n", title)
		fmt.Fprintf(&b, "- execution: `%s`\n", p.ExecutionID)
		if p.NodeID != "" {
			fmt.Fprintf(&b, "- node: `%s`\n", p.NodeID)
		}
		fmt.Fprintf(&b, "- created: %s\n\n```json\n%s\n```\n", p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), body)
		return []byte(b.String()), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// plainText returns strings verbatim and JSON-encodes everything else.
func plainText(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := xjson.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// expandPath substitutes {execution_id}, {workflow} and {node} placeholders.
func expandPath(path string, p Payload) string {
	return strings.NewReplacer(
		"{execution_id}", p.ExecutionID,
		"{workflow}", p.WorkflowName,
		"{node}", p.NodeID,
	).Replace(path)
}

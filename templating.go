package subflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	openDelim  = "<%"
	closeDelim = "%>"

	contextProperties   = "properties"
	contextPreviousNode = "previousNode"
	previousNodePrefix  = "nodes."
)

// SegmentKind tags one piece of a parsed expression.
type SegmentKind int

const (
	SegmentLiteral SegmentKind = iota
	SegmentProperty
	SegmentPreviousNode
	SegmentContext
)

// Segment is either literal text or a reference into the render context.
// For SegmentProperty the path excludes the leading "properties" key.
type Segment struct {
	Kind SegmentKind
	Text string
	Path []string
}

// Expression is a parsed property template.
type Expression struct {
	Raw      string
	Segments []Segment
}

// ParseExpression splits raw into literal text and <% %> references. Tag
// contents are trimmed; values are substituted verbatim on render.
func ParseExpression(raw string) (Expression, error) {
	expr := Expression{Raw: raw}
	rest := raw
	for rest != "" {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			expr.Segments = append(expr.Segments, Segment{Kind: SegmentLiteral, Text: rest})
			break
		}
		if start > 0 {
			expr.Segments = append(expr.Segments, Segment{Kind: SegmentLiteral, Text: rest[:start]})
		}
		rest = rest[start+len(openDelim):]
		end := strings.Index(rest, closeDelim)
		if end < 0 {
			return Expression{}, fmt.Errorf("unclosed tag %q in %q", openDelim, raw)
		}
		tag := strings.TrimSpace(rest[:end])
		rest = rest[end+len(closeDelim):]

		seg, keep, err := parseTag(tag)
		if err != nil {
			return Expression{}, fmt.Errorf("%w in %q", err, raw)
		}
		if keep {
			expr.Segments = append(expr.Segments, seg)
		}
	}
	return expr, nil
}

func parseTag(tag string) (Segment, bool, error) {
	if tag == "" {
		return Segment{}, false, fmt.Errorf("empty tag")
	}
	switch tag[0] {
	case '!':
		return Segment{}, false, nil
	case '&':
		tag = strings.TrimSpace(tag[1:])
	case '#', '^', '/', '>', '=', '{':
		return Segment{}, false, fmt.Errorf("unsupported tag %q", tag)
	}
	path := strings.Split(tag, ".")
	for _, part := range path {
		if part == "" {
			return Segment{}, false, fmt.Errorf("malformed reference %q", tag)
		}
	}
	switch {
	case path[0] == contextProperties && len(path) > 1:
		return Segment{Kind: SegmentProperty, Text: tag, Path: path[1:]}, true, nil
	case tag == contextPreviousNode:
		return Segment{Kind: SegmentPreviousNode, Text: tag, Path: path}, true, nil
	default:
		return Segment{Kind: SegmentContext, Text: tag, Path: path}, true, nil
	}
}

// IsLiteral reports whether the expression holds no references.
func (e Expression) IsLiteral() bool {
	for _, seg := range e.Segments {
		if seg.Kind != SegmentLiteral {
			return false
		}
	}
	return true
}

// PropertyRef returns the referenced path when the whole value is a single
// property reference, which is what makes the value eligible for coercion.
func (e Expression) PropertyRef() ([]string, bool) {
	if len(e.Segments) != 1 || e.Segments[0].Kind != SegmentProperty {
		return nil, false
	}
	return e.Segments[0].Path, true
}

// RenderContext is what expressions resolve against for one primitive node.
type RenderContext struct {
	Properties   map[string]any
	PreviousNode string
}

func newRenderContext(properties map[string]any, previousLabel string) RenderContext {
	ctx := RenderContext{Properties: properties}
	if previousLabel != "" {
		ctx.PreviousNode = previousNodePrefix + previousLabel
	}
	return ctx
}

func (c RenderContext) root() map[string]any {
	root := map[string]any{contextProperties: c.Properties}
	if c.PreviousNode != "" {
		root[contextPreviousNode] = c.PreviousNode
	}
	return root
}

// Render substitutes every reference; missing values render empty.
func (e Expression) Render(ctx RenderContext) string {
	if len(e.Segments) == 1 && e.Segments[0].Kind == SegmentLiteral {
		return e.Segments[0].Text
	}
	root := ctx.root()
	var sb strings.Builder
	for _, seg := range e.Segments {
		switch seg.Kind {
		case SegmentLiteral:
			sb.WriteString(seg.Text)
		case SegmentProperty:
			v, _ := lookupPath(ctx.Properties, seg.Path)
			sb.WriteString(formatScalar(v))
		case SegmentPreviousNode:
			sb.WriteString(ctx.PreviousNode)
		default:
			v, _ := lookupPath(root, seg.Path)
			sb.WriteString(formatScalar(v))
		}
	}
	return sb.String()
}

// renderValue renders expr and coerces the result using the declared schema
// when the raw value was a whole-value property reference.
func renderValue(expr Expression, ctx RenderContext, declared map[string]any) (any, error) {
	rendered := expr.Render(ctx)
	path, ok := expr.PropertyRef()
	if !ok {
		return rendered, nil
	}
	switch declaredType(declared, path) {
	case "number", "integer":
		text := strings.TrimSpace(rendered)
		if text == "" {
			return float64(0), nil
		}
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("property %s: %q is not a number", strings.Join(path, "."), rendered)
		}
		return n, nil
	case "object":
		if v, found := lookupPath(ctx.Properties, path); found {
			return copyValue(v), nil
		}
	}
	return rendered, nil
}

// declaredType walks a declared property schema; union (array) types yield "".
func declaredType(declared map[string]any, path []string) string {
	if len(path) == 0 {
		return ""
	}
	node, _ := declared[path[0]].(map[string]any)
	for _, seg := range path[1:] {
		if node == nil {
			return ""
		}
		props, _ := node["properties"].(map[string]any)
		node, _ = props[seg].(map[string]any)
	}
	if node == nil {
		return ""
	}
	t, _ := node["type"].(string)
	return t
}

func lookupPath(root map[string]any, path []string) (any, bool) {
	var cur any = root
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func formatScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// Package mermaid renders compiled graphs as Mermaid flowcharts.
package mermaid

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-subflow"
)

// Generate produces a Mermaid flowchart for g.
// Shapes follow the primitive kind:
// - Sensor: [Rectangle]
// - Actuator: [[Subroutine]]
// - Gate relation: {Rhombus}
// Triggers are solid edges labelled with their states and gate inputs are
// dotted edges into the relation.
func Generate(g *subflow.Graph) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")
	if g == nil {
		return sb.String()
	}

	for _, s := range g.Sensors {
		writeNode(&sb, s.Label, s.Name, "[", "]")
	}
	for _, a := range g.Actuators {
		writeNode(&sb, a.Label, a.Name, "[[", "]]")
	}
	for _, r := range g.Relations {
		writeNode(&sb, r.Label, r.Type, "{", "}")
	}

	for _, r := range g.Relations {
		to := sanitizeID(r.Label)
		for _, parent := range r.ParentLabels {
			fmt.Fprintf(&sb, "    %s -.-> %s\n", sanitizeID(parent), to)
		}
	}

	for _, t := range g.Triggers {
		from, to := sanitizeID(t.SourceLabel), sanitizeID(t.DestinationLabel)
		if len(t.StatesTrigger) == 0 {
			fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
			continue
		}
		states := strings.ReplaceAll(strings.Join(t.StatesTrigger, ", "), "\"", "'")
		fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", from, states, to)
	}

	return sb.String()
}

func writeNode(sb *strings.Builder, label, title, opener, closer string) {
	text := strings.ReplaceAll(title, "\"", "'")
	fmt.Fprintf(sb, "    %s%s\"%s<br/>%s\"%s\n", sanitizeID(label), opener, text, label, closer)
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

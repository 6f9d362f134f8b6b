package subflow

import (
	"fmt"
	"math/rand/v2"
	"sort"
)

// Node is one rendered primitive of an expanded step.
type Node struct {
	Name        string
	Version     string
	Type        PluginType
	Properties  map[string]any
	DataTrigger bool
	TickTrigger bool
	Triggers    []string
	Resource    string
	Label       string
	Position    Position
}

// ExpandedStep is a step with its realized primitive chain.
type ExpandedStep struct {
	Step
	Template Template
	Nodes    []Node
}

func (e ExpandedStep) first() Node { return e.Nodes[0] }
func (e ExpandedStep) last() Node  { return e.Nodes[len(e.Nodes)-1] }

// LayoutFunc produces node positions.
type LayoutFunc func() Position

const (
	layoutMinX, layoutMaxX = 100, 1250
	layoutMinY, layoutMaxY = 100, 500
)

// RandomLayout scatters nodes over the default canvas.
func RandomLayout() Position {
	return Position{
		layoutMinX + rand.IntN(layoutMaxX-layoutMinX+1),
		layoutMinY + rand.IntN(layoutMaxY-layoutMinY+1),
	}
}

// nodeLabels derives one label per plugin: <plugin>_<stepID>, suffixed with
// the chain index when a plugin name repeats inside the chain.
func nodeLabels(plugins []PluginSpec, stepID string) []string {
	counts := make(map[string]int, len(plugins))
	for _, p := range plugins {
		counts[p.Name]++
	}
	labels := make([]string, len(plugins))
	for i, p := range plugins {
		label := p.Name + "_" + stepID
		if counts[p.Name] > 1 {
			label = fmt.Sprintf("%s_%d", label, i)
		}
		labels[i] = label
	}
	return labels
}

func expandStep(ct *compiledTemplate, step Step, layout LayoutFunc) (ExpandedStep, error) {
	out := ExpandedStep{Step: step.clone(), Template: ct.Template}
	labels := nodeLabels(ct.Plugins, step.ID)

	var problems []string
	for i, cp := range ct.plugins {
		prev := ""
		if i > 0 {
			prev = labels[i-1]
		}
		ctx := newRenderContext(step.Properties, prev)

		props, errs := renderProperties(cp, ctx, ct.Properties)
		for _, e := range errs {
			problems = append(problems, fmt.Sprintf("step %s node %s: %v", step.ID, labels[i], e))
		}

		out.Nodes = append(out.Nodes, Node{
			Name:        cp.name.Render(ctx),
			Version:     cp.version.Render(ctx),
			Type:        cp.spec.Type,
			Properties:  props,
			DataTrigger: cp.spec.DataTrigger,
			TickTrigger: cp.spec.TickTrigger,
			Triggers:    append([]string{}, cp.spec.Triggers...),
			Resource:    cp.resource.Render(ctx),
			Label:       labels[i],
			Position:    layout(),
		})
	}
	if err := aggregate(ErrPropertyRender, "failed to render properties", problems); err != nil {
		return ExpandedStep{}, err
	}
	return out, nil
}

func renderProperties(cp compiledPlugin, ctx RenderContext, declared map[string]any) (map[string]any, []error) {
	keys := make([]string, 0, len(cp.spec.Properties))
	for key := range cp.spec.Properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(keys))
	var errs []error
	for _, key := range keys {
		raw := cp.spec.Properties[key]
		expr, ok := cp.properties[key]
		if !ok {
			out[key] = raw
			continue
		}
		v, err := renderValue(expr, ctx, declared)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[key] = v
	}
	return out, errs
}

// Expand turns validated steps into their primitive chains.
func Expand(reg *Registry, steps []Step, layout LayoutFunc) ([]ExpandedStep, error) {
	if layout == nil {
		layout = RandomLayout
	}
	out := make([]ExpandedStep, 0, len(steps))
	owners := make(map[string]string)
	for _, s := range steps {
		ct, ok := reg.lookup(s.Name)
		if !ok {
			return nil, newError(ErrUnknownTemplate, fmt.Sprintf("missing config for step %s", s.Name), nil)
		}
		es, err := expandStep(ct, s, layout)
		if err != nil {
			return nil, err
		}
		if err := claimLabels(owners, es); err != nil {
			return nil, err
		}
		out = append(out, es)
	}
	return out, nil
}

// claimLabels records the node labels of es, failing when another step
// already produced one of them. Triggers and relations key on labels.
func claimLabels(owners map[string]string, es ExpandedStep) error {
	for _, n := range es.Nodes {
		if owner, taken := owners[n.Label]; taken {
			msg := fmt.Sprintf("node label %s of step %s collides with step %s", n.Label, es.ID, owner)
			if owner == es.ID {
				msg = fmt.Sprintf("node label %s is produced twice by step %s", n.Label, es.ID)
			}
			return newError(ErrDuplicateLabel, msg, map[string]any{
				"label": n.Label,
				"steps": []string{owner, es.ID},
			})
		}
		owners[n.Label] = es.ID
	}
	return nil
}

package subflow

import (
	"fmt"
)

// Compiler turns step graphs into rule-engine graphs. It is stateless apart
// from its configuration and safe for concurrent use when the layout is.
type Compiler struct {
	registry *Registry
	layout   LayoutFunc
	logger   Logger
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithLayout overrides the node position generator.
func WithLayout(layout LayoutFunc) CompilerOption {
	return func(c *Compiler) {
		c.layout = layout
	}
}

// WithCompilerLogger sets the compiler logger.
func WithCompilerLogger(logger Logger) CompilerOption {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// NewCompiler builds a compiler over reg.
func NewCompiler(reg *Registry, opts ...CompilerOption) *Compiler {
	c := &Compiler{registry: reg}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.layout == nil {
		c.layout = RandomLayout
	}
	c.logger = normalizeLogger(c.logger)
	return c
}

// Compile validates steps, expands them and synthesizes every edge.
func (c *Compiler) Compile(steps []Step) (*Graph, error) {
	if err := ValidateSteps(c.registry, steps); err != nil {
		return nil, err
	}
	expanded, err := Expand(c.registry, steps, c.layout)
	if err != nil {
		return nil, err
	}

	graph := newGraph()
	for _, es := range expanded {
		for _, n := range es.Nodes {
			switch n.Type {
			case PluginSensor:
				graph.Sensors = append(graph.Sensors, sensorFromNode(n))
			case PluginActuator:
				graph.Actuators = append(graph.Actuators, actuatorFromNode(n))
			}
		}
	}

	byID := newGraphIndex(steps).byID

	graph.Triggers = append(graph.Triggers, chainTriggers(expanded)...)
	stepTriggers, err := interStepTriggers(expanded, byID)
	if err != nil {
		return nil, err
	}
	graph.Triggers = append(graph.Triggers, stepTriggers...)

	relations, err := gateRelations(expanded, byID, c.layout)
	if err != nil {
		return nil, err
	}
	graph.Relations = append(graph.Relations, relations...)

	c.logger.Debug("compiled %d steps: sensors=%d actuators=%d relations=%d triggers=%d",
		len(steps), len(graph.Sensors), len(graph.Actuators), len(graph.Relations), len(graph.Triggers))
	return graph, nil
}

func sensorFromNode(n Node) Sensor {
	return Sensor{
		Name:        n.Name,
		Version:     n.Version,
		Properties:  nonNilMap(n.Properties),
		DataTrigger: n.DataTrigger,
		TickTrigger: n.TickTrigger,
		Resource:    n.Resource,
		Label:       n.Label,
		Position:    n.Position,
	}
}

func actuatorFromNode(n Node) Actuator {
	return Actuator{
		Name:       n.Name,
		Version:    n.Version,
		Properties: nonNilMap(n.Properties),
		Label:      n.Label,
		Position:   n.Position,
	}
}

// chainTriggers links consecutive primitives inside each step.
func chainTriggers(expanded []ExpandedStep) []Trigger {
	var out []Trigger
	for _, es := range expanded {
		for i := 1; i < len(es.Nodes); i++ {
			prev := es.Nodes[i-1]
			out = append(out, Trigger{
				SourceLabel:      prev.Label,
				DestinationLabel: es.Nodes[i].Label,
				StatesTrigger:    states(prev.Triggers),
			})
		}
	}
	return out
}

// interStepTriggers links a step's last primitive to each non-gate target.
func interStepTriggers(expanded []ExpandedStep, byID map[string]int) ([]Trigger, error) {
	var out []Trigger
	for _, es := range expanded {
		source := es.last()
		for _, targetID := range es.Target {
			target, err := resolveTarget(expanded, byID, targetID)
			if err != nil {
				return nil, err
			}
			dest := target.first()
			if dest.Type == PluginGate {
				continue
			}
			out = append(out, Trigger{
				SourceLabel:      source.Label,
				DestinationLabel: dest.Label,
				StatesTrigger:    states(source.Triggers),
			})
		}
	}
	return out, nil
}

// gateRelations folds every edge into a gate into one relation per gate label.
func gateRelations(expanded []ExpandedStep, byID map[string]int, layout LayoutFunc) ([]Relation, error) {
	var out []Relation
	index := make(map[string]int)
	for _, es := range expanded {
		source := es.last()
		for _, targetID := range es.Target {
			target, err := resolveTarget(expanded, byID, targetID)
			if err != nil {
				return nil, err
			}
			gate := target.first()
			if gate.Type != PluginGate {
				continue
			}
			if i, ok := index[gate.Label]; ok {
				out[i].ParentLabels = append(out[i].ParentLabels, source.Label)
				out[i].Combinations[0] = append(out[i].Combinations[0], source.Triggers...)
				continue
			}
			index[gate.Label] = len(out)
			out = append(out, Relation{
				Label:        gate.Label,
				Type:         gate.Name,
				ParentLabels: []string{source.Label},
				Combinations: [][]string{states(source.Triggers)},
				Position:     layout(),
			})
		}
	}
	return out, nil
}

func resolveTarget(expanded []ExpandedStep, byID map[string]int, id string) (ExpandedStep, error) {
	i, ok := byID[id]
	if !ok {
		return ExpandedStep{}, newError(ErrMissingTarget, fmt.Sprintf("target %s does not exist", id), map[string]any{"target": id})
	}
	return expanded[i], nil
}

func states(in []string) []string {
	return append([]string{}, in...)
}

func nonNilMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return in
}

package subflow

// Step is one user-authored node: a template reference plus the instance
// properties its expressions render against. Target lists successor step ids;
// an empty target marks a leaf.
type Step struct {
	ID         string         `json:"id" yaml:"id" mapstructure:"id"`
	Name       string         `json:"name" yaml:"name" mapstructure:"name"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty" mapstructure:"properties"`
	Target     []string       `json:"target,omitempty" yaml:"target,omitempty" mapstructure:"target"`
}

// IsLeaf reports whether the step has no successors.
func (s Step) IsLeaf() bool {
	return len(s.Target) == 0
}

func (s Step) clone() Step {
	out := s
	out.Properties = copyMap(s.Properties)
	out.Target = append([]string(nil), s.Target...)
	return out
}

func (s Step) targets(id string) bool {
	for _, t := range s.Target {
		if t == id {
			return true
		}
	}
	return false
}

func (s Step) withTarget(ids ...string) Step {
	out := s.clone()
	for _, id := range ids {
		if !out.targets(id) {
			out.Target = append(out.Target, id)
		}
	}
	return out
}

func cloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s.clone()
	}
	return out
}

// TaskDefinition is a named step graph ready to compile.
type TaskDefinition struct {
	Name  string `json:"name" yaml:"name" mapstructure:"name"`
	Steps []Step `json:"steps" yaml:"steps" mapstructure:"steps"`
}

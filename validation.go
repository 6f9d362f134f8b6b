package subflow

import (
	"fmt"
	"strings"
)

// ValidateSteps runs every pre-compilation check on steps. Checks run class
// by class; the first failing class is returned with all of its violations.
func ValidateSteps(reg *Registry, steps []Step) error {
	if err := aggregate(ErrInvalidStep, "steps validation failed", stepShapeViolations(steps)); err != nil {
		return err
	}
	if err := checkStepTemplates(reg, steps); err != nil {
		return err
	}
	if err := aggregate(ErrMissingTarget, "failed to validate step targets", targetViolations(steps)); err != nil {
		return err
	}
	if err := checkStructure(reg, newGraphIndex(steps)); err != nil {
		return err
	}
	return checkStepProperties(reg, steps)
}

func stepShapeViolations(steps []Step) []string {
	var out []string
	ids := make(map[string]struct{}, len(steps))
	for i, s := range steps {
		if strings.TrimSpace(s.ID) == "" {
			out = append(out, fmt.Sprintf("step[%d] is missing an id", i))
		} else if _, dup := ids[s.ID]; dup {
			out = append(out, fmt.Sprintf("step id %s is used more than once", s.ID))
		}
		ids[s.ID] = struct{}{}
		if strings.TrimSpace(s.Name) == "" {
			out = append(out, fmt.Sprintf("step[%d] is missing a name", i))
		}
		seen := make(map[string]struct{}, len(s.Target))
		for _, t := range s.Target {
			if _, dup := seen[t]; dup {
				out = append(out, fmt.Sprintf("step %s lists target %s more than once", s.ID, t))
			}
			seen[t] = struct{}{}
		}
	}
	return out
}

func checkStepTemplates(reg *Registry, steps []Step) error {
	var missing []string
	for _, s := range steps {
		if _, ok := reg.lookup(s.Name); !ok {
			missing = append(missing, s.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return newError(ErrUnknownTemplate,
		fmt.Sprintf("missing config for step %s", strings.Join(missing, ", ")),
		map[string]any{"violations": missing},
	)
}

func targetViolations(steps []Step) []string {
	ids := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		ids[s.ID] = struct{}{}
	}
	var out []string
	for _, s := range steps {
		for _, t := range s.Target {
			if _, ok := ids[t]; !ok {
				out = append(out, fmt.Sprintf("step %s has a target %s that doesn't exist", s.ID, t))
			}
		}
	}
	return out
}

func checkStructure(reg *Registry, g graphIndex) error {
	isGate := func(s Step) bool {
		ct, ok := reg.lookup(s.Name)
		return ok && ct.IsGate()
	}
	if err := aggregate(ErrIllegalFanIn, "only gates can have more than 1 step pointing to them", g.fanInViolations(isGate)); err != nil {
		return err
	}
	if from, to, found := g.findCycle(); found {
		return newError(ErrCycle,
			fmt.Sprintf("circular dependency detected from %s to %s", from, to),
			map[string]any{"from": from, "to": to},
		)
	}
	if !g.hasLeaf() {
		return newError(ErrNoLeaf, "graph has no leaf step to anchor traversal", nil)
	}
	return nil
}

func checkStepProperties(reg *Registry, steps []Step) error {
	var out []string
	for _, s := range steps {
		ct, ok := reg.lookup(s.Name)
		if !ok {
			continue
		}
		for _, v := range ct.validateProperties(s.Properties) {
			out = append(out, fmt.Sprintf("step %s validation failed: properties %s", s.ID, v))
		}
	}
	return aggregate(ErrInvalidProperties, "", out)
}

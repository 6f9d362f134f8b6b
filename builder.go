package subflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// IDGenerator produces step ids.
type IDGenerator func() string

// Builder assembles a step graph one unit at a time. Every operation computes
// a fresh snapshot and only replaces the current one on success. The first
// failure is sticky: later mutations are ignored until ClearErr is called.
// A Builder is not safe for concurrent mutation.
type Builder struct {
	registry *Registry
	owner    *Subflow
	newID    IDGenerator
	logger   Logger

	steps []Step
	units []unit
	err   error
}

// unit is what one mutating call added, in insertion order. For gates the
// gate step id is last.
type unit struct {
	ids  []string
	gate bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithIDGenerator replaces the uuid step id generator.
func WithIDGenerator(gen IDGenerator) BuilderOption {
	return func(b *Builder) {
		b.newID = gen
	}
}

// WithBuilderLogger sets the builder logger.
func WithBuilderLogger(logger Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder returns an empty builder over reg.
func NewBuilder(reg *Registry, opts ...BuilderOption) *Builder {
	b := &Builder{registry: reg}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.newID == nil {
		b.newID = uuid.NewString
	}
	b.logger = normalizeLogger(b.logger)
	return b
}

// Err returns the first failure recorded by the builder.
func (b *Builder) Err() error {
	return b.err
}

// ClearErr drops the recorded failure so the builder accepts mutations again.
// The step list is the one from before the failing call.
func (b *Builder) ClearErr() *Builder {
	b.err = nil
	return b
}

// Steps returns a copy of the current step list.
func (b *Builder) Steps() []Step {
	return cloneSteps(b.steps)
}

// AddStep appends step and links the previous last step to it.
func (b *Builder) AddStep(step Step) *Builder {
	if b.err != nil {
		return b
	}
	taken := b.takenIDs()
	prepared, err := b.prepare(step, taken)
	if err != nil {
		return b.fail(err)
	}

	next := cloneSteps(b.steps)
	if n := len(next); n > 0 {
		next[n-1] = next[n-1].withTarget(prepared.ID)
	}
	next = append(next, prepared)

	return b.commit(next, unit{ids: []string{prepared.ID}}, "added step %s (%s)", prepared.ID, prepared.Name)
}

// AddAndGate appends inputs feeding a new AND gate.
func (b *Builder) AddAndGate(inputs []Step) *Builder {
	return b.addGate(GateAnd, inputs)
}

// AddOrGate appends inputs feeding a new OR gate.
func (b *Builder) AddOrGate(inputs []Step) *Builder {
	return b.addGate(GateOr, inputs)
}

func (b *Builder) addGate(kind string, inputs []Step) *Builder {
	if b.err != nil {
		return b
	}
	if len(inputs) == 0 {
		return b.fail(newError(ErrInvalidStep, fmt.Sprintf("%s gate requires at least one input step", kind), nil))
	}

	taken := b.takenIDs()
	prepared := make([]Step, 0, len(inputs))
	for _, in := range inputs {
		p, err := b.prepare(in, taken)
		if err != nil {
			return b.fail(err)
		}
		taken[p.ID] = struct{}{}
		prepared = append(prepared, p)
	}

	gateID := b.newID()
	if _, dup := taken[gateID]; dup || strings.TrimSpace(gateID) == "" {
		return b.fail(newError(ErrInvalidStep, fmt.Sprintf("generated gate id %q is not unique", gateID), nil))
	}

	ids := make([]string, 0, len(prepared)+1)
	for i := range prepared {
		prepared[i].Target = []string{gateID}
		ids = append(ids, prepared[i].ID)
	}

	next := cloneSteps(b.steps)
	if n := len(next); n > 0 {
		next[n-1] = next[n-1].withTarget(ids...)
	}
	next = append(next, prepared...)
	next = append(next, Step{ID: gateID, Name: kind})
	ids = append(ids, gateID)

	return b.commit(next, unit{ids: ids, gate: true}, "added %s gate %s over %d steps", kind, gateID, len(prepared))
}

// RemoveStep drops the most recently added unit. Removing a gate also drops
// the steps that fed it. Targets pointing at removed ids are filtered out.
func (b *Builder) RemoveStep() *Builder {
	if b.err != nil || len(b.units) == 0 {
		return b
	}
	last := b.units[len(b.units)-1]
	removed := make(map[string]struct{}, len(last.ids))
	for _, id := range last.ids {
		removed[id] = struct{}{}
	}

	next := make([]Step, 0, len(b.steps))
	for _, s := range b.steps {
		if _, gone := removed[s.ID]; gone {
			continue
		}
		s = s.clone()
		var kept []string
		for _, t := range s.Target {
			if _, gone := removed[t]; !gone {
				kept = append(kept, t)
			}
		}
		s.Target = kept
		next = append(next, s)
	}

	b.steps = next
	b.units = b.units[:len(b.units)-1]
	b.logger.Debug("builder: removed %d step(s)", len(last.ids))
	return b
}

// CreateTask compiles the current steps and submits them as a task.
func (b *Builder) CreateTask(ctx context.Context, name string, opts TaskOptions) (*Handle, error) {
	if err := b.submittable(); err != nil {
		return nil, err
	}
	return b.owner.CreateTask(ctx, TaskDefinition{Name: name, Steps: b.Steps()}, opts)
}

// CreateTemplate compiles the current steps and submits them as a template.
func (b *Builder) CreateTemplate(ctx context.Context, name string) (*Handle, error) {
	if err := b.submittable(); err != nil {
		return nil, err
	}
	return b.owner.CreateTemplate(ctx, TaskDefinition{Name: name, Steps: b.Steps()})
}

func (b *Builder) submittable() error {
	if b.err != nil {
		return b.err
	}
	if b.owner == nil {
		return newError(ErrInvalidConfig, "builder is not attached to a subflow", nil)
	}
	return nil
}

func (b *Builder) takenIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(b.steps))
	for _, s := range b.steps {
		out[s.ID] = struct{}{}
	}
	return out
}

// prepare validates a caller step and assigns an id. The returned step is a
// tail: its target is reset.
func (b *Builder) prepare(step Step, taken map[string]struct{}) (Step, error) {
	if strings.TrimSpace(step.Name) == "" {
		return Step{}, newError(ErrInvalidStep, "step is missing a name", nil)
	}
	if _, ok := b.registry.lookup(step.Name); !ok {
		return Step{}, newError(ErrUnknownTemplate,
			fmt.Sprintf("no step setup in config with name %s", step.Name),
			map[string]any{"name": step.Name},
		)
	}
	out := step.clone()
	out.Target = nil
	if strings.TrimSpace(out.ID) == "" {
		out.ID = b.newID()
	}
	if _, dup := taken[out.ID]; dup {
		return Step{}, newError(ErrInvalidStep, fmt.Sprintf("step id %s is used more than once", out.ID), nil)
	}
	return out, nil
}

func (b *Builder) commit(next []Step, u unit, format string, args ...any) *Builder {
	if err := checkStepProperties(b.registry, next); err != nil {
		return b.fail(err)
	}
	b.steps = next
	b.units = append(b.units, u)
	b.logger.Debug("builder: "+format, args...)
	return b
}

func (b *Builder) fail(err error) *Builder {
	b.err = err
	b.logger.Debug("builder: %v", err)
	return b
}

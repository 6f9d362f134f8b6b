package subflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-subflow/cron"
)

// TaskCreator persists compiled graphs. Its errors are returned to callers
// unchanged.
type TaskCreator interface {
	CreateTask(ctx context.Context, payload TaskPayload) (*Handle, error)
	CreateTemplate(ctx context.Context, payload TemplatePayload) (*Handle, error)
}

// MetricsRecorder receives compile and hand-off measurements.
type MetricsRecorder interface {
	RecordDuration(name string, duration time.Duration)
	RecordError(name string)
	RecordSuccess(name string)
}

const (
	metricCompile        = "compile"
	metricCreateTask     = "create_task"
	metricCreateTemplate = "create_template"
)

// Subflow ties a registry to a persistence collaborator.
type Subflow struct {
	registry *Registry
	api      TaskCreator
	compiler *Compiler

	logger  Logger
	metrics MetricsRecorder
	layout  LayoutFunc
	newID   IDGenerator
	cron    *cron.Validator
}

// Option configures a Subflow.
type Option func(*Subflow)

// WithLogger sets the logger shared by the facade, its compiler and builders.
func WithLogger(logger Logger) Option {
	return func(s *Subflow) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(s *Subflow) {
		s.metrics = recorder
	}
}

// WithNodeLayout sets the position generator used by compiles.
func WithNodeLayout(layout LayoutFunc) Option {
	return func(s *Subflow) {
		s.layout = layout
	}
}

// WithStepIDs sets the id generator handed to builders.
func WithStepIDs(gen IDGenerator) Option {
	return func(s *Subflow) {
		s.newID = gen
	}
}

// WithCronValidator sets the validator for the task "cron" option.
func WithCronValidator(v *cron.Validator) Option {
	return func(s *Subflow) {
		s.cron = v
	}
}

// New returns a Subflow. api may be nil when only compiling.
func New(reg *Registry, api TaskCreator, opts ...Option) (*Subflow, error) {
	if reg == nil {
		return nil, newError(ErrInvalidConfig, "registry is required", nil)
	}
	s := &Subflow{registry: reg, api: api}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = normalizeLogger(s.logger)
	if s.cron == nil {
		s.cron = cron.NewValidator()
	}
	s.compiler = NewCompiler(reg, WithLayout(s.layout), WithCompilerLogger(s.logger))
	return s, nil
}

// Registry returns the template registry.
func (s *Subflow) Registry() *Registry {
	return s.registry
}

// CreateTaskBuilder returns a builder attached to s.
func (s *Subflow) CreateTaskBuilder() *Builder {
	b := NewBuilder(s.registry, WithIDGenerator(s.newID), WithBuilderLogger(s.logger))
	b.owner = s
	return b
}

// Compile validates and compiles steps.
func (s *Subflow) Compile(steps []Step) (*Graph, error) {
	start := time.Now()
	graph, err := s.compiler.Compile(steps)
	s.record(metricCompile, start, err)
	if err != nil {
		s.logger.Debug("compile failed: %v", err)
	}
	return graph, err
}

// CompileTask compiles def and wraps it with resolved task options.
func (s *Subflow) CompileTask(def TaskDefinition, opts TaskOptions) (TaskPayload, error) {
	if err := checkDefinitionName(def); err != nil {
		return TaskPayload{}, err
	}
	task, err := resolveTaskOptions(def.Name, opts, s.cron)
	if err != nil {
		return TaskPayload{}, err
	}
	graph, err := s.Compile(def.Steps)
	if err != nil {
		return TaskPayload{}, err
	}
	return TaskPayload{Graph: *graph, Task: task}, nil
}

// CompileTemplate compiles def into a template payload.
func (s *Subflow) CompileTemplate(def TaskDefinition) (TemplatePayload, error) {
	if err := checkDefinitionName(def); err != nil {
		return TemplatePayload{}, err
	}
	graph, err := s.Compile(def.Steps)
	if err != nil {
		return TemplatePayload{}, err
	}
	return TemplatePayload{Graph: *graph, Name: def.Name}, nil
}

// CreateTask compiles def and hands it to the persistence collaborator. No
// network call happens unless compilation succeeds.
func (s *Subflow) CreateTask(ctx context.Context, def TaskDefinition, opts TaskOptions) (*Handle, error) {
	payload, err := s.CompileTask(def, opts)
	if err != nil {
		return nil, err
	}
	if err := s.requireAPI(); err != nil {
		return nil, err
	}
	logger := withLoggerFields(s.logger.WithContext(ctx), map[string]any{"task": def.Name, "steps": len(def.Steps)})
	start := time.Now()
	handle, err := s.api.CreateTask(ctx, payload)
	s.record(metricCreateTask, start, err)
	if err != nil {
		logger.Error("create task failed: %v", err)
		return nil, err
	}
	logger.Info("created task %s", def.Name)
	return handle, nil
}

// CreateTemplate compiles def and hands it to the persistence collaborator.
func (s *Subflow) CreateTemplate(ctx context.Context, def TaskDefinition) (*Handle, error) {
	payload, err := s.CompileTemplate(def)
	if err != nil {
		return nil, err
	}
	if err := s.requireAPI(); err != nil {
		return nil, err
	}
	logger := withLoggerFields(s.logger.WithContext(ctx), map[string]any{"template": def.Name})
	start := time.Now()
	handle, err := s.api.CreateTemplate(ctx, payload)
	s.record(metricCreateTemplate, start, err)
	if err != nil {
		logger.Error("create template failed: %v", err)
		return nil, err
	}
	logger.Info("created template %s", def.Name)
	return handle, nil
}

// GetSubflows lists the templates matching q.
func (s *Subflow) GetSubflows(q TagQuery) []TemplateSummary {
	return s.registry.Query(q)
}

func (s *Subflow) requireAPI() error {
	if s.api == nil {
		return newError(ErrInvalidConfig, "no task creator configured", nil)
	}
	return nil
}

func (s *Subflow) record(name string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordDuration(name, time.Since(start))
	if err != nil {
		s.metrics.RecordError(name)
		return
	}
	s.metrics.RecordSuccess(name)
}

func checkDefinitionName(def TaskDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return newError(ErrInvalidStep, fmt.Sprintf("definition with %d steps is missing a name", len(def.Steps)), nil)
	}
	return nil
}

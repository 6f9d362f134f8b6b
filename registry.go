package subflow

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Registry is the validated, read-only catalogue of step templates. It is safe
// for concurrent use once constructed.
type Registry struct {
	templates []*compiledTemplate
	byName    map[string]*compiledTemplate
	logger    Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used while building the registry.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

type compiledTemplate struct {
	Template
	plugins []compiledPlugin
	// schema validates step input properties; nil when nothing is declared.
	schema *openapi3.Schema
}

type compiledPlugin struct {
	spec       PluginSpec
	name       Expression
	version    Expression
	resource   Expression
	properties map[string]Expression
}

// NewRegistry validates templates and merges in the built-in AND/OR gates.
func NewRegistry(templates []Template, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]*compiledTemplate, len(templates)+2),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = normalizeLogger(r.logger)

	checks := []func([]Template) []string{
		checkTemplateShape,
		checkTemplateTypes,
		checkStreamPosition,
	}
	for _, check := range checks {
		if err := aggregate(ErrInvalidConfig, "failed to validate config", check(templates)); err != nil {
			return nil, err
		}
	}

	all := append(defaultTemplates(), templates...)
	var violations []string
	for _, tpl := range all {
		ct, problems := compileTemplate(tpl)
		if len(problems) > 0 {
			violations = append(violations, problems...)
			continue
		}
		r.templates = append(r.templates, ct)
		r.byName[ct.Name] = ct
	}
	if err := aggregate(ErrInvalidConfig, "failed to validate config", violations); err != nil {
		return nil, err
	}

	r.logger.Debug("template registry ready: %d templates", len(r.templates))
	return r, nil
}

func checkTemplateShape(templates []Template) []string {
	var out []string
	seen := make(map[string]struct{}, len(templates))
	for i, tpl := range templates {
		name := strings.TrimSpace(tpl.Name)
		if name == "" {
			out = append(out, fmt.Sprintf("template[%d] is missing a name", i))
			continue
		}
		if isReservedName(name) {
			out = append(out, fmt.Sprintf("template %s uses a reserved gate name", name))
		}
		if _, dup := seen[name]; dup {
			out = append(out, fmt.Sprintf("template %s is defined more than once", name))
		}
		seen[name] = struct{}{}
		if len(tpl.Plugins) == 0 {
			out = append(out, fmt.Sprintf("template %s has no plugins", name))
		}
		for idx, p := range tpl.Plugins {
			if strings.TrimSpace(p.Name) == "" {
				out = append(out, fmt.Sprintf("template %s plugin[%d] is missing a name", name, idx))
			}
			switch p.Type {
			case PluginSensor, PluginActuator:
			default:
				out = append(out, fmt.Sprintf("template %s plugin[%d] has unsupported type %q", name, idx, p.Type))
			}
			if strings.TrimSpace(p.Version) == "" {
				out = append(out, fmt.Sprintf("template %s plugin[%d] is missing a version", name, idx))
			}
		}
	}
	return out
}

func checkTemplateTypes(templates []Template) []string {
	var out []string
	for _, tpl := range templates {
		var types []string
		seen := map[PluginType]bool{}
		for _, p := range tpl.Plugins {
			if !seen[p.Type] {
				seen[p.Type] = true
				types = append(types, string(p.Type))
			}
		}
		if len(types) > 1 {
			out = append(out, fmt.Sprintf("template %s has different plugin types %v, only one type is allowed per template", tpl.Name, types))
		}
	}
	return out
}

func checkStreamPosition(templates []Template) []string {
	var out []string
	for _, tpl := range templates {
		for idx := len(tpl.Plugins) - 1; idx > 0; idx-- {
			if tpl.Plugins[idx].DataTrigger {
				out = append(out, fmt.Sprintf("template %s cannot have a stream plugin other than in the first position", tpl.Name))
				break
			}
		}
	}
	return out
}

func compileTemplate(tpl Template) (*compiledTemplate, []string) {
	ct := &compiledTemplate{Template: tpl.clone()}
	var problems []string

	schema, err := buildPropertySchema(tpl.Properties)
	if err != nil {
		problems = append(problems, fmt.Sprintf("template %s: %v", tpl.Name, err))
	}
	ct.schema = schema

	for idx, p := range ct.Plugins {
		cp, err := compilePlugin(p)
		if err != nil {
			problems = append(problems, fmt.Sprintf("template %s plugin[%d]: %v", tpl.Name, idx, err))
			continue
		}
		ct.plugins = append(ct.plugins, cp)
	}
	return ct, problems
}

func compilePlugin(p PluginSpec) (compiledPlugin, error) {
	cp := compiledPlugin{spec: p, properties: make(map[string]Expression)}
	var err error
	if cp.name, err = ParseExpression(p.Name); err != nil {
		return cp, err
	}
	if cp.version, err = ParseExpression(p.Version); err != nil {
		return cp, err
	}
	if cp.resource, err = ParseExpression(p.Resource); err != nil {
		return cp, err
	}
	for key, val := range p.Properties {
		s, ok := val.(string)
		if !ok {
			continue
		}
		expr, err := ParseExpression(s)
		if err != nil {
			return cp, fmt.Errorf("property %s: %w", key, err)
		}
		cp.properties[key] = expr
	}
	return cp, nil
}

// buildPropertySchema turns the declared property descriptors into an object
// schema that requires every declared key.
func buildPropertySchema(declared map[string]any) (*openapi3.Schema, error) {
	if len(declared) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)

	root := openapi3.NewObjectSchema()
	for _, name := range names {
		raw, ok := declared[name].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("property %s: schema must be an object, got %T", name, declared[name])
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		prop := &openapi3.Schema{}
		if err := json.Unmarshal(data, prop); err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		root.WithProperty(name, prop)
	}
	root.Required = names
	return root, nil
}

// Lookup returns a copy of the named template.
func (r *Registry) Lookup(name string) (Template, bool) {
	ct, ok := r.lookup(name)
	if !ok {
		return Template{}, false
	}
	return ct.clone(), true
}

func (r *Registry) lookup(name string) (*compiledTemplate, bool) {
	if r == nil {
		return nil, false
	}
	ct, ok := r.byName[name]
	return ct, ok
}

// Templates lists every template, built-in gates first.
func (r *Registry) Templates() []Template {
	out := make([]Template, 0, len(r.templates))
	for _, ct := range r.templates {
		out = append(out, ct.clone())
	}
	return out
}

// TagQuery filters templates by tag. Or matches templates carrying any of the
// tags, And those carrying all of them; the results are merged.
type TagQuery struct {
	And []string `json:"AND,omitempty" yaml:"AND,omitempty"`
	Or  []string `json:"OR,omitempty" yaml:"OR,omitempty"`
}

// IsEmpty reports whether the query has no filters.
func (q TagQuery) IsEmpty() bool {
	return len(q.And) == 0 && len(q.Or) == 0
}

// Query returns the summaries of templates matching q; an empty query lists all.
func (r *Registry) Query(q TagQuery) []TemplateSummary {
	out := make([]TemplateSummary, 0)
	if q.IsEmpty() {
		for _, ct := range r.templates {
			out = append(out, ct.summary())
		}
		return out
	}

	seen := make(map[string]struct{})
	add := func(ct *compiledTemplate) {
		if _, ok := seen[ct.Name]; ok {
			return
		}
		seen[ct.Name] = struct{}{}
		out = append(out, ct.summary())
	}
	for _, ct := range r.templates {
		if len(ct.Tags) > 0 && hasAnyTag(ct.Tags, q.Or) {
			add(ct)
		}
	}
	if len(q.And) > 0 {
		for _, ct := range r.templates {
			if len(ct.Tags) > 0 && hasAllTags(ct.Tags, q.And) {
				add(ct)
			}
		}
	}
	return out
}

func hasAnyTag(tags, wanted []string) bool {
	for _, w := range wanted {
		for _, t := range tags {
			if t == w {
				return true
			}
		}
	}
	return false
}

func hasAllTags(tags, wanted []string) bool {
	for _, w := range wanted {
		if !hasAnyTag(tags, []string{w}) {
			return false
		}
	}
	return true
}

// validateProperties checks step input properties against the declared
// schema and returns one message per violation.
func (ct *compiledTemplate) validateProperties(props map[string]any) []string {
	if ct.schema == nil {
		return nil
	}
	value, err := normalizeJSON(props)
	if err != nil {
		return []string{err.Error()}
	}
	if err := ct.schema.VisitJSON(value, openapi3.MultiErrors()); err != nil {
		return flattenSchemaErrors(err)
	}
	return nil
}

func normalizeJSON(props map[string]any) (any, error) {
	if props == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenSchemaErrors(err error) []string {
	var multi openapi3.MultiError
	if stderrors.As(err, &multi) {
		var out []string
		for _, e := range multi {
			out = append(out, flattenSchemaErrors(e)...)
		}
		return out
	}
	var se *openapi3.SchemaError
	if stderrors.As(err, &se) {
		return []string{fmt.Sprintf("/%s %s", strings.Join(se.JSONPointer(), "/"), se.Reason)}
	}
	return []string{err.Error()}
}

package subflow

// PluginType is the kind of a primitive node.
type PluginType string

const (
	PluginSensor   PluginType = "sensor"
	PluginActuator PluginType = "actuator"
	PluginGate     PluginType = "gate"
)

// PluginSpec describes one primitive node inside a template chain. String
// fields and string property values may hold <% %> expressions.
type PluginSpec struct {
	Name        string         `json:"name" yaml:"name" mapstructure:"name"`
	Version     string         `json:"version,omitempty" yaml:"version,omitempty" mapstructure:"version"`
	Type        PluginType     `json:"type" yaml:"type" mapstructure:"type"`
	Properties  map[string]any `json:"properties,omitempty" yaml:"properties,omitempty" mapstructure:"properties"`
	DataTrigger bool           `json:"dataTrigger,omitempty" yaml:"dataTrigger,omitempty" mapstructure:"dataTrigger"`
	TickTrigger bool           `json:"tickTrigger,omitempty" yaml:"tickTrigger,omitempty" mapstructure:"tickTrigger"`
	Triggers    []string       `json:"triggers,omitempty" yaml:"triggers,omitempty" mapstructure:"triggers"`
	Resource    string         `json:"resource,omitempty" yaml:"resource,omitempty" mapstructure:"resource"`
}

// Template is a registry entry: a named, reusable chain of primitive nodes.
// Properties holds the declared JSON-schema-like descriptor per input property.
type Template struct {
	Name        string         `json:"name" yaml:"name" mapstructure:"name"`
	Description string         `json:"description" yaml:"description" mapstructure:"description"`
	Properties  map[string]any `json:"properties,omitempty" yaml:"properties,omitempty" mapstructure:"properties"`
	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty" mapstructure:"tags"`
	Plugins     []PluginSpec   `json:"plugins" yaml:"plugins" mapstructure:"plugins"`
}

// Type returns the plugin type shared by the chain.
func (t Template) Type() PluginType {
	if len(t.Plugins) == 0 {
		return ""
	}
	return t.Plugins[0].Type
}

// IsGate reports whether the template expands into a gate primitive.
func (t Template) IsGate() bool {
	return t.Type() == PluginGate
}

// IsStream reports whether the chain starts on a data-triggered plugin.
func (t Template) IsStream() bool {
	return len(t.Plugins) > 0 && t.Plugins[0].DataTrigger
}

// TemplateSummary is the public, plugin-free view of a template.
type TemplateSummary struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
}

func (t Template) summary() TemplateSummary {
	return TemplateSummary{
		Name:        t.Name,
		Description: t.Description,
		Properties:  copyMap(t.Properties),
		Tags:        append([]string(nil), t.Tags...),
	}
}

func (t Template) clone() Template {
	out := t
	out.Properties = copyMap(t.Properties)
	out.Tags = append([]string(nil), t.Tags...)
	out.Plugins = make([]PluginSpec, len(t.Plugins))
	for i, p := range t.Plugins {
		p.Properties = copyMap(p.Properties)
		p.Triggers = append([]string(nil), p.Triggers...)
		out.Plugins[i] = p
	}
	return out
}

// copyMap deep-copies nested maps and slices; other values are shared.
func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		if t == nil {
			return t
		}
		return append([]string(nil), t...)
	default:
		return v
	}
}

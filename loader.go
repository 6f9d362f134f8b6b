package subflow

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

var sensorOnlyKeys = []string{"dataTrigger", "tickTrigger", "triggers", "resource"}

// ParseTemplates decodes a YAML or JSON list of templates. A document with a
// top-level "templates" key is accepted as well.
func ParseTemplates(data []byte) ([]Template, error) {
	items, err := decodeList(data, "templates")
	if err != nil {
		return nil, newError(ErrInvalidConfig, fmt.Sprintf("config validation failed: %v", err), nil)
	}

	var problems []string
	for i, item := range items {
		problems = append(problems, templateKeyViolations(i, item)...)
	}
	if err := aggregate(ErrInvalidConfig, "config validation failed", problems); err != nil {
		return nil, err
	}

	var out []Template
	if err := decodeStrict(items, &out, false); err != nil {
		return nil, newError(ErrInvalidConfig, fmt.Sprintf("config validation failed: %v", err), nil)
	}
	return out, nil
}

// LoadTemplatesFile reads and parses a template file.
func LoadTemplatesFile(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates %s: %w", path, err)
	}
	return ParseTemplates(data)
}

// ParseSteps decodes a task definition: either {name, steps} or a bare step
// list. Numeric ids and targets are accepted and turned into strings.
func ParseSteps(data []byte) (TaskDefinition, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return TaskDefinition{}, newError(ErrInvalidStep, fmt.Sprintf("steps validation failed: %v", err), nil)
	}

	var def TaskDefinition
	var err error
	switch v := doc.(type) {
	case []any:
		err = decodeStrict(v, &def.Steps, true)
	case map[string]any:
		err = decodeStrict(v, &def, true)
	case nil:
		return def, nil
	default:
		err = fmt.Errorf("expected a list of steps or a definition object, got %T", doc)
	}
	if err != nil {
		return TaskDefinition{}, newError(ErrInvalidStep, fmt.Sprintf("steps validation failed: %v", err), nil)
	}
	return def, nil
}

// LoadStepsFile reads and parses a task definition file.
func LoadStepsFile(path string) (TaskDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TaskDefinition{}, fmt.Errorf("read steps %s: %w", path, err)
	}
	return ParseSteps(data)
}

func decodeList(data []byte, wrapper string) ([]any, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case map[string]any:
		inner, ok := v[wrapper]
		if !ok {
			return nil, fmt.Errorf("expected a list or a %q key", wrapper)
		}
		list, ok := inner.([]any)
		if !ok {
			return nil, fmt.Errorf("%q must be a list, got %T", wrapper, inner)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", doc)
	}
}

func templateKeyViolations(i int, item any) []string {
	m, ok := item.(map[string]any)
	if !ok {
		return []string{fmt.Sprintf("/%d must be object", i)}
	}
	var out []string
	for _, key := range []string{"name", "description"} {
		if _, ok := m[key]; !ok {
			out = append(out, fmt.Sprintf("/%d must have required property '%s'", i, key))
		}
	}
	plugins, _ := m["plugins"].([]any)
	for j, raw := range plugins {
		p, ok := raw.(map[string]any)
		if !ok {
			out = append(out, fmt.Sprintf("/%d/plugins/%d must be object", i, j))
			continue
		}
		for _, key := range []string{"name", "version", "type"} {
			if _, ok := p[key]; !ok {
				out = append(out, fmt.Sprintf("/%d/plugins/%d must have required property '%s'", i, j, key))
			}
		}
		isSensor := p["type"] == string(PluginSensor)
		for _, key := range sensorOnlyKeys {
			_, present := p[key]
			switch {
			case isSensor && !present && key != "resource":
				out = append(out, fmt.Sprintf("/%d/plugins/%d must have required property '%s'", i, j, key))
			case !isSensor && present:
				out = append(out, fmt.Sprintf("/%d/plugins/%d must NOT have additional property '%s'", i, j, key))
			}
		}
	}
	return out
}

func decodeStrict(input, output any, weak bool) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: weak,
		Result:           output,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), "\n", " "))
	}
	return nil
}

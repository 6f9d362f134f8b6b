package subflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryMergesBuiltinGates(t *testing.T) {
	reg := newFixtureRegistry(t)

	for _, name := range []string{GateAnd, GateOr} {
		tpl, ok := reg.Lookup(name)
		require.True(t, ok, "gate %s should be registered", name)
		assert.True(t, tpl.IsGate())
		require.Len(t, tpl.Plugins, 1)
		assert.Equal(t, []string{"TRUE"}, tpl.Plugins[0].Triggers)
	}

	all := reg.Templates()
	require.Len(t, all, len(fixtureTemplates())+2)
	assert.Equal(t, GateAnd, all[0].Name)
	assert.Equal(t, GateOr, all[1].Name)
}

func TestNewRegistryRejectsInvalidTemplates(t *testing.T) {
	sensor := func(name string) PluginSpec {
		return PluginSpec{Name: name, Version: "1.0.0", Type: PluginSensor, Triggers: []string{"ok"}}
	}
	actuator := func(name string) PluginSpec {
		return PluginSpec{Name: name, Version: "1.0.0", Type: PluginActuator}
	}

	cases := []struct {
		name      string
		templates []Template
		contains  string
	}{
		{
			name:      "missing name",
			templates: []Template{{Plugins: []PluginSpec{sensor("x")}}},
			contains:  "template[0] is missing a name",
		},
		{
			name:      "duplicate name",
			templates: []Template{{Name: "x", Plugins: []PluginSpec{sensor("x")}}, {Name: "x", Plugins: []PluginSpec{sensor("y")}}},
			contains:  "template x is defined more than once",
		},
		{
			name:      "reserved gate name",
			templates: []Template{{Name: GateAnd, Plugins: []PluginSpec{sensor("x")}}},
			contains:  "reserved gate name",
		},
		{
			name:      "no plugins",
			templates: []Template{{Name: "empty"}},
			contains:  "template empty has no plugins",
		},
		{
			name:      "gate typed user template",
			templates: []Template{{Name: "g", Plugins: []PluginSpec{{Name: "g", Type: PluginGate}}}},
			contains:  "unsupported type",
		},
		{
			name:      "missing version",
			templates: []Template{{Name: "v", Plugins: []PluginSpec{{Name: "v", Type: PluginSensor}}}},
			contains:  "is missing a version",
		},
		{
			name:      "mixed plugin types",
			templates: []Template{{Name: "mixed", Plugins: []PluginSpec{sensor("s"), actuator("a")}}},
			contains:  "template mixed has different plugin types [sensor actuator]",
		},
		{
			name: "stream plugin after first position",
			templates: []Template{{Name: "late", Plugins: []PluginSpec{
				sensor("first"),
				{Name: "stream", Version: "1.0.0", Type: PluginSensor, DataTrigger: true},
			}}},
			contains: "template late cannot have a stream plugin other than in the first position",
		},
		{
			name: "property schema not an object",
			templates: []Template{{Name: "p", Properties: map[string]any{"x": "number"}, Plugins: []PluginSpec{sensor("p")}}},
			contains: "property x: schema must be an object",
		},
		{
			name: "unclosed expression",
			templates: []Template{{Name: "u", Plugins: []PluginSpec{{
				Name: "u", Version: "1.0.0", Type: PluginSensor,
				Properties: map[string]any{"value": "<% properties.value"},
			}}}},
			contains: "unclosed tag",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg, err := NewRegistry(tc.templates)
			require.Error(t, err)
			assert.Nil(t, reg)
			assert.Equal(t, KindConfiguration, KindOf(err))
			assert.ErrorContains(t, err, tc.contains)
		})
	}
}

func TestNewRegistryReportsEveryViolationOfAClass(t *testing.T) {
	_, err := NewRegistry([]Template{
		{Name: "one", Plugins: []PluginSpec{{Name: "a", Version: "1", Type: PluginSensor}, {Name: "b", Version: "1", Type: PluginActuator}}},
		{Name: "two", Plugins: []PluginSpec{{Name: "a", Version: "1", Type: PluginActuator}, {Name: "b", Version: "1", Type: PluginSensor}}},
	})
	require.Error(t, err)
	assert.Len(t, Violations(err), 2)
	assert.Equal(t, ErrCodeInvalidConfig, ErrorCode(err))
}

func TestLookupReturnsIndependentCopies(t *testing.T) {
	reg := newFixtureRegistry(t)

	tpl, ok := reg.Lookup("A")
	require.True(t, ok)
	tpl.Plugins[0].Triggers[0] = "mutated"
	tpl.Tags = append(tpl.Tags, "extra")

	again, _ := reg.Lookup("A")
	assert.Equal(t, "Above", again.Plugins[0].Triggers[0])
	assert.Equal(t, []string{"sensor", "alpha"}, again.Tags)

	_, ok = reg.Lookup("a")
	assert.False(t, ok, "lookup is exact")
}

func TestQueryByTags(t *testing.T) {
	reg := newFixtureRegistry(t)

	names := func(in []TemplateSummary) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			out = append(out, s.Name)
		}
		return out
	}

	cases := []struct {
		name  string
		query TagQuery
		want  []string
	}{
		{name: "empty query lists everything", query: TagQuery{}, want: []string{"AND", "OR", "A", "B", "C", "threshold", "notify"}},
		{name: "or matches any tag", query: TagQuery{Or: []string{"actuator", "alpha"}}, want: []string{"A", "C"}},
		{name: "and requires every tag", query: TagQuery{And: []string{"sensor", "alpha"}}, want: []string{"A"}},
		{name: "or and and are merged without duplicates", query: TagQuery{Or: []string{"sensor"}, And: []string{"alpha"}}, want: []string{"A", "B", "C"}},
		{name: "no match", query: TagQuery{Or: []string{"missing"}}, want: []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, names(reg.Query(tc.query)))
		})
	}
}

func TestValidatePropertiesCollectsSchemaViolations(t *testing.T) {
	reg := newFixtureRegistry(t)
	ct, ok := reg.lookup("threshold")
	require.True(t, ok)

	assert.Empty(t, ct.validateProperties(map[string]any{"resource": "dev", "threshold": 3}))

	problems := ct.validateProperties(map[string]any{"threshold": 3})
	require.NotEmpty(t, problems)
	assert.Contains(t, problems[0], "resource")

	problems = ct.validateProperties(map[string]any{"resource": "dev", "threshold": "high"})
	require.NotEmpty(t, problems)
	assert.Contains(t, problems[0], "/threshold")
}

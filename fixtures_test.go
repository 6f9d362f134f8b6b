package subflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixtureTemplates() []Template {
	return []Template{
		{
			Name:        "A",
			Description: "sensor A",
			Tags:        []string{"sensor", "alpha"},
			Plugins: []PluginSpec{{
				Name:     "sensorA",
				Version:  "1.0.0",
				Type:     PluginSensor,
				Triggers: []string{"Above", "Below"},
			}},
		},
		{
			Name:        "B",
			Description: "sensor B",
			Tags:        []string{"sensor"},
			Plugins: []PluginSpec{{
				Name:     "sensorB",
				Version:  "1.0.0",
				Type:     PluginSensor,
				Triggers: []string{"Found"},
			}},
		},
		{
			Name:        "C",
			Description: "actuator C",
			Tags:        []string{"actuator", "alpha"},
			Plugins: []PluginSpec{{
				Name:    "mail",
				Version: "1.0.0",
				Type:    PluginActuator,
			}},
		},
		{
			Name:        "threshold",
			Description: "stream threshold check",
			Properties: map[string]any{
				"resource":  map[string]any{"type": "string"},
				"threshold": map[string]any{"type": "number"},
			},
			Plugins: []PluginSpec{
				{
					Name:        "streamingDataSensor",
					Version:     "1.2.0",
					Type:        PluginSensor,
					DataTrigger: true,
					Triggers:    []string{"Above", "Below"},
					Resource:    "<% properties.resource %>",
					Properties: map[string]any{
						"threshold": "<%properties.threshold%>",
						"label":     "limit <%properties.threshold%> on <%properties.resource%>",
					},
				},
				{
					Name:     "function",
					Version:  "1.0.0",
					Type:     PluginSensor,
					Triggers: []string{"True", "False"},
					Properties: map[string]any{
						"script": "<%previousNode%>.state == 'Above'",
						"retries": 3,
					},
				},
			},
		},
		{
			Name:        "notify",
			Description: "send a payload",
			Properties: map[string]any{
				"payload": map[string]any{"type": "object"},
			},
			Plugins: []PluginSpec{{
				Name:    "webhook",
				Version: "2.0.0",
				Type:    PluginActuator,
				Properties: map[string]any{
					"body":    "<%properties.payload%>",
					"message": "value is <%properties.payload.value%>",
				},
			}},
		},
	}
}

func newFixtureRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(fixtureTemplates())
	require.NoError(t, err)
	return reg
}

func fixedLayout() Position {
	return Position{100, 100}
}

func sequentialIDs() IDGenerator {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("s%d", n)
	}
}

type fakeCreator struct {
	mu        sync.Mutex
	tasks     []TaskPayload
	templates []TemplatePayload
	err       error
}

func (f *fakeCreator) CreateTask(_ context.Context, payload TaskPayload) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, payload)
	return &Handle{ID: fmt.Sprintf("task-%d", len(f.tasks)), Name: fmt.Sprint(payload.Task["name"])}, nil
}

func (f *fakeCreator) CreateTemplate(_ context.Context, payload TemplatePayload) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.templates = append(f.templates, payload)
	return &Handle{Name: payload.Name}, nil
}

type recordingMetrics struct {
	mu        sync.Mutex
	durations map[string]int
	errors    map[string]int
	successes map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		durations: map[string]int{},
		errors:    map[string]int{},
		successes: map[string]int{},
	}
}

func (m *recordingMetrics) RecordDuration(name string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[name]++
}

func (m *recordingMetrics) RecordError(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[name]++
}

func (m *recordingMetrics) RecordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes[name]++
}

package subflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubflow(t *testing.T, api TaskCreator, opts ...Option) *Subflow {
	t.Helper()
	base := []Option{WithNodeLayout(fixedLayout), WithStepIDs(sequentialIDs())}
	s, err := New(newFixtureRegistry(t), api, append(base, opts...)...)
	require.NoError(t, err)
	return s
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
}

func TestBuilderCreateTaskSubmitsPayload(t *testing.T) {
	api := &fakeCreator{}
	metrics := newRecordingMetrics()
	s := newTestSubflow(t, api, WithMetrics(metrics))

	handle, err := s.CreateTaskBuilder().
		AddStep(Step{Name: "A"}).
		AddAndGate([]Step{{Name: "A"}, {Name: "B"}}).
		AddStep(Step{Name: "C"}).
		CreateTask(t.Context(), "night watch", TaskOptions{"pollingInterval": 60, "tags": map[string]any{"site": "gent"}})
	require.NoError(t, err)
	assert.Equal(t, "task-1", handle.ID)

	require.Len(t, api.tasks, 1)
	payload := api.tasks[0]
	assert.Len(t, payload.Sensors, 3)
	assert.Len(t, payload.Actuators, 1)
	assert.Len(t, payload.Relations, 1)
	assert.Equal(t, TaskOptions{
		"type":            TaskTypePeriodic,
		"start":           true,
		"name":            "night watch",
		"pollingInterval": 60,
		"tags":            map[string]any{"site": "gent"},
	}, payload.Task)

	assert.Equal(t, 1, metrics.successes[metricCompile])
	assert.Equal(t, 1, metrics.successes[metricCreateTask])
	assert.Equal(t, 2, len(metrics.durations))
}

func TestCreateTemplateSubmitsNamedGraph(t *testing.T) {
	api := &fakeCreator{}
	s := newTestSubflow(t, api)

	handle, err := s.CreateTaskBuilder().
		AddStep(Step{Name: "B"}).
		AddStep(Step{Name: "C"}).
		CreateTemplate(t.Context(), "reusable")
	require.NoError(t, err)
	assert.Equal(t, "reusable", handle.Name)

	require.Len(t, api.templates, 1)
	assert.Equal(t, "reusable", api.templates[0].Name)
	assert.Equal(t, []Trigger{{SourceLabel: "sensorB_s1", DestinationLabel: "mail_s2", StatesTrigger: []string{"Found"}}}, api.templates[0].Triggers)
}

func TestCreateTaskDoesNotCallCollaboratorOnValidationFailure(t *testing.T) {
	api := &fakeCreator{}
	metrics := newRecordingMetrics()
	s := newTestSubflow(t, api, WithMetrics(metrics))

	_, err := s.CreateTask(t.Context(), TaskDefinition{
		Name: "broken",
		Steps: []Step{
			{ID: "A", Name: "A", Target: []string{"B"}},
			{ID: "B", Name: "B", Target: []string{"A"}},
		},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, KindStructural, KindOf(err))
	assert.Empty(t, api.tasks)
	assert.Equal(t, 1, metrics.errors[metricCompile])
	assert.Zero(t, metrics.durations[metricCreateTask])
}

func TestCreateTaskPropagatesCollaboratorErrorsUnchanged(t *testing.T) {
	remote := errors.New("rule engine unavailable")
	metrics := newRecordingMetrics()
	s := newTestSubflow(t, &fakeCreator{err: remote}, WithMetrics(metrics))

	_, err := s.CreateTask(t.Context(), TaskDefinition{Name: "t", Steps: []Step{{ID: "c", Name: "C"}}}, nil)
	assert.Same(t, remote, err)
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Equal(t, 1, metrics.errors[metricCreateTask])

	_, err = s.CreateTemplate(t.Context(), TaskDefinition{Name: "t", Steps: []Step{{ID: "c", Name: "C"}}})
	assert.Same(t, remote, err)
}

func TestCreateTaskRejectsInvalidOptions(t *testing.T) {
	api := &fakeCreator{}
	s := newTestSubflow(t, api)
	def := TaskDefinition{Name: "t", Steps: []Step{{ID: "c", Name: "C"}}}

	cases := []struct {
		name     string
		opts     TaskOptions
		contains string
	}{
		{name: "scheduled without cron", opts: TaskOptions{"type": TaskTypeScheduled}, contains: "scheduled tasks require a cron expression"},
		{name: "bad cron", opts: TaskOptions{"type": TaskTypeScheduled, "cron": "every day"}, contains: "invalid cron expression"},
		{name: "cron not a string", opts: TaskOptions{"cron": 5}, contains: "task cron must be a string"},
		{name: "zero polling", opts: TaskOptions{"pollingInterval": 0}, contains: "pollingInterval must be a positive number"},
		{name: "start not bool", opts: TaskOptions{"start": "yes"}, contains: "task start must be a boolean"},
		{name: "empty type", opts: TaskOptions{"type": ""}, contains: "task type must be a non-empty string"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.CreateTask(t.Context(), def, tc.opts)
			require.Error(t, err)
			assert.Equal(t, ErrCodeInvalidTaskOptions, ErrorCode(err))
			assert.ErrorContains(t, err, tc.contains)
		})
	}
	assert.Empty(t, api.tasks)

	_, err := s.CreateTask(t.Context(), def, TaskOptions{"type": TaskTypeScheduled, "cron": "0 */2 * * *"})
	require.NoError(t, err)
	require.Len(t, api.tasks, 1)
	assert.Equal(t, "0 */2 * * *", api.tasks[0].Task["cron"])
}

func TestCreateTaskRequiresNameAndCollaborator(t *testing.T) {
	s := newTestSubflow(t, nil)

	_, err := s.CreateTask(t.Context(), TaskDefinition{Steps: []Step{{ID: "c", Name: "C"}}}, nil)
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidStep, ErrorCode(err))

	_, err = s.CreateTask(t.Context(), TaskDefinition{Name: "t", Steps: []Step{{ID: "c", Name: "C"}}}, nil)
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidConfig, ErrorCode(err))

	payload, err := s.CompileTask(TaskDefinition{Name: "t", Steps: []Step{{ID: "c", Name: "C"}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "t", payload.Task["name"])
}

func TestBuilderErrorShortCircuitsSubmission(t *testing.T) {
	api := &fakeCreator{}
	s := newTestSubflow(t, api)

	_, err := s.CreateTaskBuilder().AddStep(Step{Name: "missing"}).AddStep(Step{Name: "C"}).CreateTask(t.Context(), "t", nil)
	require.Error(t, err)
	assert.Equal(t, KindReference, KindOf(err))
	assert.Empty(t, api.tasks)
}

func TestGetSubflowsDelegatesToRegistry(t *testing.T) {
	s := newTestSubflow(t, nil)
	got := s.GetSubflows(TagQuery{And: []string{"actuator"}})
	require.Len(t, got, 1)
	assert.Equal(t, TemplateSummary{Name: "C", Description: "actuator C", Tags: []string{"actuator", "alpha"}}, got[0])
}

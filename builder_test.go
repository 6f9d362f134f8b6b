package subflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	return NewBuilder(newFixtureRegistry(t), WithIDGenerator(sequentialIDs()))
}

func TestAddStepLinksSequentially(t *testing.T) {
	b := newTestBuilder(t).
		AddStep(Step{Name: "A"}).
		AddStep(Step{Name: "B"}).
		AddStep(Step{ID: "custom", Name: "C", Target: []string{"ignored"}})
	require.NoError(t, b.Err())

	steps := b.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, Step{ID: "s1", Name: "A", Target: []string{"s2"}}, steps[0])
	assert.Equal(t, Step{ID: "s2", Name: "B", Target: []string{"custom"}}, steps[1])
	assert.Equal(t, Step{ID: "custom", Name: "C"}, steps[2])
}

func TestAddStepFailuresAreStickyAndLeaveStateUnchanged(t *testing.T) {
	cases := []struct {
		name string
		step Step
		kind ErrorKind
	}{
		{name: "missing name", step: Step{}, kind: KindStructural},
		{name: "unknown template", step: Step{Name: "nope"}, kind: KindReference},
		{name: "invalid properties", step: Step{Name: "threshold", Properties: map[string]any{"threshold": "high"}}, kind: KindProperty},
		{name: "duplicate id", step: Step{ID: "s1", Name: "B"}, kind: KindStructural},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBuilder(t).AddStep(Step{Name: "A"})
			before := b.Steps()

			b.AddStep(tc.step)
			require.Error(t, b.Err())
			assert.Equal(t, tc.kind, KindOf(b.Err()))
			assert.Equal(t, before, b.Steps())

			b.AddStep(Step{Name: "B"})
			assert.Equal(t, before, b.Steps(), "mutations are ignored after a failure")
		})
	}
}

func TestAddStepRevalidatesAccumulatedProperties(t *testing.T) {
	b := newTestBuilder(t).AddStep(Step{Name: "threshold", Properties: map[string]any{"resource": "dev"}})
	require.Error(t, b.Err())
	assert.ErrorContains(t, b.Err(), "step s1 validation failed: properties")
	assert.Empty(t, b.Steps())
}

func TestAddGateWiresInputsAndFanOut(t *testing.T) {
	b := newTestBuilder(t).
		AddStep(Step{Name: "A"}).
		AddAndGate([]Step{{Name: "A"}, {Name: "B"}}).
		AddStep(Step{Name: "C"})
	require.NoError(t, b.Err())

	assert.Equal(t, []Step{
		{ID: "s1", Name: "A", Target: []string{"s2", "s3"}},
		{ID: "s2", Name: "A", Target: []string{"s4"}},
		{ID: "s3", Name: "B", Target: []string{"s4"}},
		{ID: "s4", Name: GateAnd, Target: []string{"s5"}},
		{ID: "s5", Name: "C"},
	}, b.Steps())
}

func TestAddOrGateWithoutPredecessor(t *testing.T) {
	b := newTestBuilder(t).AddOrGate([]Step{{Name: "A"}, {Name: "B"}})
	require.NoError(t, b.Err())

	steps := b.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, GateOr, steps[2].Name)
	assert.Equal(t, []string{"s3"}, steps[0].Target)
	assert.Equal(t, []string{"s3"}, steps[1].Target)
	assert.True(t, steps[2].IsLeaf())
}

func TestAddGateRequiresInputs(t *testing.T) {
	b := newTestBuilder(t).AddAndGate(nil)
	require.Error(t, b.Err())
	assert.Equal(t, ErrCodeInvalidStep, ErrorCode(b.Err()))
}

func TestRemoveStepIsSymmetricWithAddStep(t *testing.T) {
	only := newTestBuilder(t).AddStep(Step{ID: "a", Name: "A"})
	both := newTestBuilder(t).
		AddStep(Step{ID: "a", Name: "A"}).
		AddStep(Step{ID: "b", Name: "B"}).
		RemoveStep()

	require.NoError(t, both.Err())
	assert.Equal(t, only.Steps(), both.Steps())
	assert.Empty(t, both.Steps()[0].Target)
}

func TestRemoveStepCascadesToGateInputs(t *testing.T) {
	b := newTestBuilder(t).
		AddStep(Step{Name: "A"}).
		AddAndGate([]Step{{Name: "A"}, {Name: "B"}}).
		RemoveStep()
	require.NoError(t, b.Err())
	assert.Equal(t, []Step{{ID: "s1", Name: "A"}}, b.Steps())

	b.AddStep(Step{Name: "C"}).RemoveStep().RemoveStep().RemoveStep()
	assert.Empty(t, b.Steps())
}

func TestRemoveStepAfterGateKeepsGate(t *testing.T) {
	b := newTestBuilder(t).
		AddOrGate([]Step{{Name: "A"}, {Name: "B"}}).
		AddStep(Step{Name: "C"}).
		RemoveStep()
	require.NoError(t, b.Err())

	steps := b.Steps()
	require.Len(t, steps, 3)
	assert.True(t, steps[2].IsLeaf(), "gate target is cleared once its successor is removed")
}

func TestStepsReturnsADeepCopy(t *testing.T) {
	b := newTestBuilder(t).
		AddStep(Step{Name: "threshold", Properties: map[string]any{"resource": "dev", "threshold": 1}}).
		AddStep(Step{Name: "C"})
	require.NoError(t, b.Err())

	steps := b.Steps()
	steps[0].Target[0] = "elsewhere"
	steps[0].Properties["resource"] = "other"

	again := b.Steps()
	assert.Equal(t, []string{"s2"}, again[0].Target)
	assert.Equal(t, "dev", again[0].Properties["resource"])
}

func TestBuilderWithoutSubflowCannotSubmit(t *testing.T) {
	b := newTestBuilder(t).AddStep(Step{Name: "A"})
	_, err := b.CreateTask(t.Context(), "task", nil)
	require.Error(t, err)
	assert.Equal(t, KindConfiguration, KindOf(err))
}

func TestStepsCopiesNestedProperties(t *testing.T) {
	b := newTestBuilder(t).
		AddStep(Step{Name: "notify", Properties: map[string]any{"payload": map[string]any{"value": 1}}})
	require.NoError(t, b.Err())

	steps := b.Steps()
	steps[0].Properties["payload"].(map[string]any)["value"] = 2

	assert.Equal(t, 1, b.Steps()[0].Properties["payload"].(map[string]any)["value"])
}

func TestClearErrResumesFromLastSnapshot(t *testing.T) {
	b := newTestBuilder(t).
		AddStep(Step{Name: "A"}).
		AddStep(Step{Name: "nope"})
	require.Error(t, b.Err())

	b.ClearErr()
	require.NoError(t, b.Err())

	b.AddStep(Step{Name: "B"})
	require.NoError(t, b.Err())
	assert.Equal(t, []Step{
		{ID: "s1", Name: "A", Target: []string{"s2"}},
		{ID: "s2", Name: "B"},
	}, b.Steps())

	b.RemoveStep()
	require.NoError(t, b.Err())
	assert.Equal(t, []Step{{ID: "s1", Name: "A"}}, b.Steps())
}

package subflow

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-subflow/cron"
)

const (
	TaskTypePeriodic  = "periodic"
	TaskTypeScheduled = "scheduled"
	TaskTypeOneTime   = "onetime"
	TaskTypeReactive  = "reactive"
)

const (
	taskKeyType            = "type"
	taskKeyStart           = "start"
	taskKeyName            = "name"
	taskKeyPollingInterval = "pollingInterval"
	taskKeyCron            = "cron"
)

// TaskOptions is the task metadata sent with a compiled graph. Caller values
// override the defaults key by key; unknown keys pass through untouched.
type TaskOptions map[string]any

func defaultTaskOptions(name string) TaskOptions {
	return TaskOptions{
		taskKeyType:            TaskTypePeriodic,
		taskKeyStart:           true,
		taskKeyName:            name,
		taskKeyPollingInterval: DefaultTaskPollingInterval,
	}
}

// resolveTaskOptions merges overrides over the defaults for name and checks
// the keys the rule engine interprets.
func resolveTaskOptions(name string, overrides TaskOptions, validator *cron.Validator) (TaskOptions, error) {
	out := defaultTaskOptions(name)
	for k, v := range overrides {
		out[k] = v
	}

	var problems []string
	taskType, ok := out[taskKeyType].(string)
	if !ok || strings.TrimSpace(taskType) == "" {
		problems = append(problems, fmt.Sprintf("task type must be a non-empty string, got %v", out[taskKeyType]))
	}
	if _, ok := out[taskKeyStart].(bool); !ok {
		problems = append(problems, fmt.Sprintf("task start must be a boolean, got %v", out[taskKeyStart]))
	}
	if !positiveNumber(out[taskKeyPollingInterval]) {
		problems = append(problems, fmt.Sprintf("task pollingInterval must be a positive number, got %v", out[taskKeyPollingInterval]))
	}

	raw, hasCron := out[taskKeyCron]
	switch {
	case hasCron:
		expr, ok := raw.(string)
		if !ok {
			problems = append(problems, fmt.Sprintf("task cron must be a string, got %T", raw))
		} else if err := validator.Validate(expr); err != nil {
			problems = append(problems, err.Error())
		}
	case taskType == TaskTypeScheduled:
		problems = append(problems, "scheduled tasks require a cron expression")
	}

	if err := aggregate(ErrInvalidTaskOptions, "invalid task options", problems); err != nil {
		return nil, err
	}
	return out, nil
}

func positiveNumber(v any) bool {
	switch n := v.(type) {
	case int:
		return n > 0
	case int32:
		return n > 0
	case int64:
		return n > 0
	case uint:
		return n > 0
	case uint32:
		return n > 0
	case uint64:
		return n > 0
	case float32:
		return n > 0
	case float64:
		return n > 0
	}
	return false
}

package cron

import (
	"fmt"
	"strings"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Validator checks cron expressions attached to scheduled tasks before they
// are handed to the rule engine.
type Validator struct {
	location *time.Location
	parser   Parser
	rparser  rcron.ScheduleParser
}

// NewValidator creates a validator with the provided options.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		location: time.UTC,
		parser:   DefaultParser,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if v.location == nil {
		v.location = time.UTC
	}
	v.rparser = v.build()
	return v
}

// build converts implementation-agnostic options to an rcron parser.
func (v *Validator) build() rcron.ScheduleParser {
	switch v.parser {
	case StandardParser:
		return rcron.NewParser(
			rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
		)
	case SecondsParser:
		return rcron.NewParser(
			rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
		)
	default:
		return rcron.NewParser(
			rcron.SecondOptional | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
		)
	}
}

// Validate reports whether expression parses.
func (v *Validator) Validate(expression string) error {
	_, err := v.parse(expression)
	return err
}

// Next returns the next n activation times after from.
func (v *Validator) Next(expression string, from time.Time, n int) ([]time.Time, error) {
	schedule, err := v.parse(expression)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	at := from.In(v.location)
	for i := 0; i < n; i++ {
		at = schedule.Next(at)
		if at.IsZero() {
			break
		}
		out = append(out, at)
	}
	return out, nil
}

func (v *Validator) parse(expression string) (rcron.Schedule, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("cron expression cannot be empty")
	}
	schedule, err := v.rparser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	return schedule, nil
}

package cron

import "time"

// Parser represents a cron expression parser type
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

// Option configures a Validator.
type Option func(*Validator)

// WithLocation sets the timezone used when computing upcoming runs
func WithLocation(loc *time.Location) Option {
	return func(v *Validator) {
		v.location = loc
	}
}

// WithParser sets the type of cron expression parser to use
func WithParser(p Parser) Option {
	return func(v *Validator) {
		v.parser = p
	}
}

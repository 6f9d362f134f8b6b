package subflow

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeInvalidConfig      = "SUBFLOW_INVALID_CONFIG"
	ErrCodeUnknownTemplate    = "SUBFLOW_UNKNOWN_TEMPLATE"
	ErrCodeMissingTarget      = "SUBFLOW_MISSING_TARGET"
	ErrCodeInvalidStep        = "SUBFLOW_INVALID_STEP"
	ErrCodeIllegalFanIn       = "SUBFLOW_ILLEGAL_FAN_IN"
	ErrCodeCycle              = "SUBFLOW_CYCLE"
	ErrCodeNoLeaf             = "SUBFLOW_NO_LEAF"
	ErrCodeDuplicateLabel     = "SUBFLOW_DUPLICATE_LABEL"
	ErrCodeInvalidProperties  = "SUBFLOW_INVALID_PROPERTIES"
	ErrCodePropertyRender     = "SUBFLOW_PROPERTY_RENDER"
	ErrCodeInvalidTaskOptions = "SUBFLOW_INVALID_TASK_OPTIONS"
)

var (
	ErrInvalidConfig = apperrors.New("invalid template configuration", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidConfig)
	ErrUnknownTemplate = apperrors.New("unknown template", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeUnknownTemplate)
	ErrMissingTarget = apperrors.New("target does not exist", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeMissingTarget)
	ErrInvalidStep = apperrors.New("invalid step", apperrors.CategoryValidation).
			WithTextCode(ErrCodeInvalidStep)
	ErrIllegalFanIn = apperrors.New("only gates can have more than 1 step pointing to them", apperrors.CategoryValidation).
			WithTextCode(ErrCodeIllegalFanIn)
	ErrCycle = apperrors.New("circular dependency detected", apperrors.CategoryValidation).
			WithTextCode(ErrCodeCycle)
	ErrNoLeaf = apperrors.New("graph has no leaf step", apperrors.CategoryValidation).
			WithTextCode(ErrCodeNoLeaf)
	ErrDuplicateLabel = apperrors.New("node label is not unique", apperrors.CategoryValidation).
				WithTextCode(ErrCodeDuplicateLabel)
	ErrInvalidProperties = apperrors.New("step properties validation failed", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInvalidProperties)
	ErrPropertyRender = apperrors.New("property rendering failed", apperrors.CategoryValidation).
				WithTextCode(ErrCodePropertyRender)
	ErrInvalidTaskOptions = apperrors.New("invalid task options", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidTaskOptions)
)

// ErrorKind groups failures the way callers usually react to them.
type ErrorKind string

const (
	KindUnknown       ErrorKind = ""
	KindConfiguration ErrorKind = "configuration"
	KindReference     ErrorKind = "reference"
	KindStructural    ErrorKind = "structural"
	KindProperty      ErrorKind = "property"
)

var kindByCode = map[string]ErrorKind{
	ErrCodeInvalidConfig:      KindConfiguration,
	ErrCodeInvalidTaskOptions: KindConfiguration,
	ErrCodeUnknownTemplate:    KindReference,
	ErrCodeMissingTarget:      KindReference,
	ErrCodeInvalidStep:        KindStructural,
	ErrCodeIllegalFanIn:       KindStructural,
	ErrCodeCycle:              KindStructural,
	ErrCodeNoLeaf:             KindStructural,
	ErrCodeDuplicateLabel:     KindStructural,
	ErrCodeInvalidProperties:  KindProperty,
	ErrCodePropertyRender:     KindProperty,
}

// KindOf reports the kind of a library error, or KindUnknown for anything else
// (including errors returned by the persistence collaborator).
func KindOf(err error) ErrorKind {
	return kindByCode[ErrorCode(err)]
}

// ErrorCode returns the text code of a go-errors error in the chain.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// Violations returns the individual messages collected into an aggregated error.
func Violations(err error) []string {
	var ge *apperrors.Error
	if !stderrors.As(err, &ge) || ge.Metadata == nil {
		return nil
	}
	out, _ := ge.Metadata["violations"].([]string)
	return out
}

func newError(base *apperrors.Error, message string, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// aggregate folds a class of violations into one error so every offender is
// reported together.
func aggregate(base *apperrors.Error, prefix string, violations []string) error {
	if len(violations) == 0 {
		return nil
	}
	msg := strings.Join(violations, "; ")
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	return newError(base, msg, map[string]any{"violations": violations})
}

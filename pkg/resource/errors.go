package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// ErrUnsupportedKind is returned when an identifier or request kind cannot be
// mapped to a handler.
var ErrUnsupportedKind = errors.New("unsupported kind")

// Cause classifies a failed result.
type Cause string

const (
	CauseNone            Cause = ""
	CauseConfiguration   Cause = "configuration"
	CauseUnsupportedKind Cause = "unsupported_kind"
	CauseProvider        Cause = "provider"
	CausePrecondition    Cause = "precondition"
	CauseTimeout         Cause = "timeout"
	CauseCanceled        Cause = "canceled"
)

// ConfigurationError reports that the run's identity or credentials could
// not be resolved. It aborts the whole run before any resource is touched.
type ConfigurationError struct {
	Profile string
	Region  string
	Err     error
}

func (e *ConfigurationError) Error() string {
	profile := e.Profile
	if profile == "" {
		profile = "default"
	}
	return fmt.Sprintf("configuration error (profile %s, region %s): %v", profile, e.Region, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ProviderError wraps a failed provider call. The provider's message is kept
// verbatim.
type ProviderError struct {
	Op   string
	Code string
	Err  error
}

// NewProviderError wraps err from operation op, extracting the API error code
// when the provider supplied one.
func NewProviderError(op string, err error) *ProviderError {
	pe := &ProviderError{Op: op, Err: err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe.Code = apiErr.ErrorCode()
	}
	return pe
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PreconditionError reports that a dependency step failed before the final
// delete call was attempted.
type PreconditionError struct {
	Step    string
	Timeout bool
	Err     error
}

func (e *PreconditionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("precondition %s timed out: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("precondition %s failed: %v", e.Step, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Classify maps an error to the cause recorded on a failed result.
func Classify(err error) Cause {
	if err == nil {
		return CauseNone
	}

	var (
		ce  *ConfigurationError
		pre *PreconditionError
		pe  *ProviderError
	)
	switch {
	case errors.Is(err, ErrUnsupportedKind):
		return CauseUnsupportedKind
	case errors.As(err, &ce):
		return CauseConfiguration
	case errors.As(err, &pre):
		if pre.Timeout {
			return CauseTimeout
		}
		return CausePrecondition
	case errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, context.Canceled):
		return CauseCanceled
	case errors.As(err, &pe):
		return CauseProvider
	}
	return CauseProvider
}

package deferred

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationMissing is returned when the Supabase URL is not configured.
	ErrConfigurationMissing = errors.New("supabase not configured: set VITE_SUPABASE_URL and VITE_SUPABASE_PUBLISHABLE_KEY to enable supabase features")

	// ErrBackendConstruction matches every *ConstructionError.
	ErrBackendConstruction = errors.New("supabase backend construction failed")

	// ErrStepFailed matches every *StepError.
	ErrStepFailed = errors.New("call step failed")

	// ErrNoSuchMember is the cause of a StepError when the current object has
	// neither a method nor a field with the step's name.
	ErrNoSuchMember = errors.New("no such method or field")
)

// ConstructionError wraps a failure of the loader's constructor.
type ConstructionError struct {
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("%s: %v", ErrBackendConstruction, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// Is reports ErrBackendConstruction as a match.
func (e *ConstructionError) Is(target error) bool { return target == ErrBackendConstruction }

// StepError reports the step that stopped a replay.
type StepError struct {
	Index int
	Step  CallStep
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Is reports ErrStepFailed as a match.
func (e *StepError) Is(target error) bool { return target == ErrStepFailed }

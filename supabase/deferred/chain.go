package deferred

import (
	"fmt"
	"strings"
)

// CallStep is one recorded method call or field access.
type CallStep struct {
	Name string
	Args []any
}

// NewCallStep copies args so later changes to the caller's slice are not seen.
func NewCallStep(name string, args ...any) CallStep {
	var copied []any
	if len(args) > 0 {
		copied = make([]any, len(args))
		copy(copied, args)
	}
	return CallStep{Name: name, Args: copied}
}

func (s CallStep) String() string {
	if len(s.Args) == 0 {
		return s.Name
	}
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		parts[i] = fmt.Sprintf("%v", a)
	}
	return s.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Chain is an append-only sequence of steps. The zero value is the empty
// chain and stands for the backend object itself.
type Chain struct {
	steps []CallStep
}

// Append returns a new chain with step added at the end. The receiver is
// left untouched and never shares writable capacity with the result.
func (c Chain) Append(step CallStep) Chain {
	steps := make([]CallStep, len(c.steps)+1)
	copy(steps, c.steps)
	steps[len(c.steps)] = step
	return Chain{steps: steps}
}

// Len returns the number of steps.
func (c Chain) Len() int { return len(c.steps) }

// At returns the i-th step.
func (c Chain) At(i int) CallStep { return c.steps[i] }

// Steps returns a copy of the recorded steps.
func (c Chain) Steps() []CallStep {
	out := make([]CallStep, len(c.steps))
	copy(out, c.steps)
	return out
}

func (c Chain) String() string {
	if len(c.steps) == 0 {
		return "<backend>"
	}
	parts := make([]string, len(c.steps))
	for i, s := range c.steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

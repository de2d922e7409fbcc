package service

import (
	"context"
	"fmt"
)

// compensation undoes one provider-side side effect.
type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// Compensator is a stack of undo actions for a multi-step provider workflow.
// Each step that creates remote state pushes its undo; on failure the stack is
// run in reverse order.
type Compensator struct {
	steps []compensation
}

// Push registers an undo action. name identifies it in errors and metrics.
func (c *Compensator) Push(name string, undo func(ctx context.Context) error) {
	c.steps = append(c.steps, compensation{name: name, undo: undo})
}

// Len returns the number of registered undo actions.
func (c *Compensator) Len() int {
	return len(c.steps)
}

// Rollback runs every undo action newest first. It never stops early: each
// failure is collected and the remaining actions still run. The stack is
// empty afterwards.
func (c *Compensator) Rollback(ctx context.Context) []error {
	var errs []error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.undo(ctx); err != nil {
			errs = append(errs, &RollbackError{Action: step.name, Err: err})
		}
	}
	c.steps = nil
	return errs
}

// Discard drops all undo actions once the workflow has committed.
func (c *Compensator) Discard() {
	c.steps = nil
}

// RollbackError is a failed undo action.
type RollbackError struct {
	Action string
	Err    error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback %s: %v", e.Action, e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

package saga

import (
	"fmt"

	sberrors "github.com/randalmurphal/sagabus/pkg/sagabus/errors"
)

// validateDefinition rejects sagas that could never run to completion:
// missing names, duplicate step ids, unknown dependencies and cycles.
func validateDefinition(name string, steps []Step) error {
	if name == "" {
		return &sberrors.ValidationError{Field: "name", Message: "saga name is required"}
	}
	if len(steps) == 0 {
		return &sberrors.ValidationError{Field: "steps", Message: "saga must have at least one step"}
	}

	byID := make(map[string]Step, len(steps))
	for i, step := range steps {
		if step.ID == "" {
			return &sberrors.ValidationError{Field: "steps", Message: fmt.Sprintf("step %d: id is required", i)}
		}
		if step.Action == "" {
			return &sberrors.ValidationError{Field: "steps", Message: fmt.Sprintf("step %q: action is required", step.ID)}
		}
		if _, dup := byID[step.ID]; dup {
			return &sberrors.ValidationError{Field: "steps", Message: fmt.Sprintf("duplicate step id %q", step.ID)}
		}
		byID[step.ID] = step
	}

	for _, step := range steps {
		for _, dep := range step.Dependencies {
			if _, ok := byID[dep]; !ok {
				return &sberrors.ValidationError{
					Field:   "steps",
					Message: fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep),
				}
			}
		}
	}

	if cycle := findCycle(steps, byID); cycle != "" {
		return &sberrors.ValidationError{
			Field:   "steps",
			Message: fmt.Sprintf("dependency cycle through step %q", cycle),
		}
	}
	return nil
}

// findCycle returns the id of a step on a dependency cycle, or "".
func findCycle(steps []Step, byID map[string]Step) string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(steps))

	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		for _, dep := range byID[id].Dependencies {
			if c := visit(dep); c != "" {
				return c
			}
		}
		state[id] = done
		return ""
	}

	for _, step := range steps {
		if c := visit(step.ID); c != "" {
			return c
		}
	}
	return ""
}

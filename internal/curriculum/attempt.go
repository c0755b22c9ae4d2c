package curriculum

import (
	"errors"
	"fmt"
)

var (
	// ErrWrongAnswer means the attempt was well formed but incorrect.
	ErrWrongAnswer = errors.New("wrong answer")
	// ErrInvalidAttempt means the attempt does not fit the step kind.
	ErrInvalidAttempt = errors.New("invalid attempt")
)

// Attempt is a learner's interaction with a step.
type Attempt struct {
	Acknowledged bool     `json:"acknowledged,omitempty"` // theory
	OptionID     string   `json:"option_id,omitempty"`    // checkpoint
	Order        []string `json:"order,omitempty"`        // exercise, fragment IDs
}

// Validate checks an attempt against the step's kind-specific payload. A nil
// error is the successful-validation event that allows the step to complete.
func Validate(step *Step, a Attempt) error {
	switch step.Kind {
	case KindTheory:
		if !a.Acknowledged {
			return fmt.Errorf("theory step %s not acknowledged: %w", step.ID, ErrInvalidAttempt)
		}
		return nil

	case KindCheckpoint:
		if step.Quiz == nil {
			return fmt.Errorf("checkpoint step %s has no quiz: %w", step.ID, ErrInvalidAttempt)
		}
		if a.OptionID == "" {
			return fmt.Errorf("no option selected: %w", ErrInvalidAttempt)
		}
		for _, opt := range step.Quiz.Options {
			if opt.ID == a.OptionID {
				if opt.IsCorrect {
					return nil
				}
				return ErrWrongAnswer
			}
		}
		return fmt.Errorf("unknown option %q: %w", a.OptionID, ErrInvalidAttempt)

	case KindExercise:
		if len(a.Order) != len(step.Fragments) {
			return fmt.Errorf("got %d fragments, want %d: %w", len(a.Order), len(step.Fragments), ErrInvalidAttempt)
		}
		for i, f := range step.Fragments {
			if a.Order[i] != f.ID {
				return ErrWrongAnswer
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown step kind %q: %w", step.Kind, ErrInvalidAttempt)
	}
}

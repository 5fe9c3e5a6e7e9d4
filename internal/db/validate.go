package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type enqueueInput struct {
	Description string   `validate:"required,max=10000"`
	Priority    int      `validate:"min=1,max=5"`
	Tags        []string `validate:"max=32,dive,required,max=64"`
}

// validateEnqueue normalizes and checks enqueue input. Tags are trimmed and deduplicated
// in first-seen order.
func validateEnqueue(description string, priority int, tags []string) (string, []string, error) {
	in := enqueueInput{
		Description: strings.TrimSpace(description),
		Priority:    priority,
		Tags:        normalizeTags(tags),
	}

	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return "", nil, toValidationError(verrs[0])
		}
		return "", nil, &ValidationError{Field: "task", Reason: err.Error()}
	}
	return in.Description, in.Tags, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func toValidationError(fe validator.FieldError) *ValidationError {
	field := strings.ToLower(fe.Field())
	if strings.HasPrefix(field, "tags[") {
		field = "tags"
	}

	var reason string
	switch {
	case field == "description" && fe.Tag() == "required":
		reason = "must not be empty"
	case field == "priority":
		reason = fmt.Sprintf("must be between %d and %d, got %v", MinPriority, MaxPriority, fe.Value())
	case fe.Tag() == "max":
		reason = fmt.Sprintf("exceeds maximum of %s", fe.Param())
	default:
		reason = fmt.Sprintf("failed %q check", fe.Tag())
	}
	return &ValidationError{Field: field, Reason: reason}
}

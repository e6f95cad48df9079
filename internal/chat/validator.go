package chat

import (
	"fmt"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxTextChars is the longest message text accepted, in characters. It is
// enforced through the max tag on MessageBody.Text.
const MaxTextChars = 2000

// NamePolicy selects which display names the registry accepts.
type NamePolicy string

const (
	// PolicyAlphanum accepts ASCII letters and digits only.
	PolicyAlphanum NamePolicy = "alphanum"
	// PolicyAny accepts any non-empty string.
	PolicyAny NamePolicy = "any"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseNamePolicy maps a configuration value to a NamePolicy.
func ParseNamePolicy(s string) (NamePolicy, error) {
	switch p := NamePolicy(s); p {
	case PolicyAlphanum, PolicyAny:
		return p, nil
	default:
		return "", fmt.Errorf("chat: unknown name policy %q", s)
	}
}

func (p NamePolicy) tag() string {
	if p == PolicyAny {
		return "required"
	}
	return "required,alphanum"
}

// ValidateName checks a participant name against the policy.
func (p NamePolicy) ValidateName(name string) error {
	if err := validate.Var(name, p.tag()); err != nil {
		return fmt.Errorf("%w: name %q: %w", ErrValidation, name, err)
	}
	return nil
}

// ValidateBody checks a posted or edited message body. The recipient must be
// the broadcast sentinel or satisfy the name policy.
func (p NamePolicy) ValidateBody(body MessageBody) error {
	if !utf8.ValidString(body.Text) {
		return fmt.Errorf("%w: text contains invalid UTF-8", ErrValidation)
	}
	if err := validate.Struct(body); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if body.To == Broadcast {
		return nil
	}
	return p.ValidateName(body.To)
}

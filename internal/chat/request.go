// ABOUTME: Outbound request types and their validation rules
// ABOUTME: Validation runs before any network call so invalid sends never leave the client

package chat

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/2389/coven-inbox/internal/identity"
)

// MaxContentLength is the longest message body accepted, in characters.
const MaxContentLength = 4000

var validate = validator.New()

// SendRequest is a message about to be sent to the receiver.
type SendRequest struct {
	Content  string `validate:"required,max=4000"`
	Job      JobRef `validate:"gte=0"`
	Receiver identity.Participant
}

// Validate checks the request. Whitespace-only content counts as empty.
func (r SendRequest) Validate() error {
	trimmed := r
	trimmed.Content = strings.TrimSpace(r.Content)
	if err := validate.Struct(trimmed); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, describe(err))
	}
	if r.Receiver.IsZero() {
		return fmt.Errorf("%w: receiver is required", ErrValidation)
	}
	return nil
}

// ValidateIDs checks a batch of message ids for mark-read.
func ValidateIDs(ids []int64) error {
	if err := validate.Var(ids, "dive,gt=0"); err != nil {
		return fmt.Errorf("%w: message ids must be positive", ErrValidation)
	}
	return nil
}

// describe turns validator output into a short human message.
func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

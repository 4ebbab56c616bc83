package entry

import (
	"fmt"
	"unicode/utf8"

	"github.com/securelog/entries-api/internal/moderation"
)

const (
	MinContentChars = 10
	MaxContentChars = 50

	// MaxRawBytes bounds the unsanitized input before any parsing work.
	MaxRawBytes = 4096
)

// ValidationError reports which field failed and which constraint it broke.
type ValidationError struct {
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Constraint)
}

// PrepareContent sanitizes raw content and checks that what remains is
// between MinContentChars and MaxContentChars characters. It returns the
// sanitized text to store.
func PrepareContent(raw string) (string, error) {
	if len(raw) > MaxRawBytes {
		return "", &ValidationError{Field: "contenido", Constraint: fmt.Sprintf("exceeds %d byte limit", MaxRawBytes)}
	}
	if !utf8.ValidString(raw) {
		return "", &ValidationError{Field: "contenido", Constraint: "contains invalid UTF-8"}
	}

	clean := moderation.Sanitize(raw)
	n := moderation.TextLength(clean)
	switch {
	case n == 0:
		return "", &ValidationError{Field: "contenido", Constraint: "is empty after sanitization"}
	case n < MinContentChars:
		return "", &ValidationError{Field: "contenido", Constraint: fmt.Sprintf("must be at least %d characters", MinContentChars)}
	case n > MaxContentChars:
		return "", &ValidationError{Field: "contenido", Constraint: fmt.Sprintf("must not exceed %d characters", MaxContentChars)}
	}
	return clean, nil
}

// Package uuid generates and validates the identifiers assigned to
// offline actions.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// canonicalLen is the length of the hyphenated form, the only form the
// store accepts.
const canonicalLen = 36

// New generates a random version 4 UUID in canonical form.
func New() string {
	return uuid.New().String()
}

// IsValid reports whether s is a canonical-form version 4 UUID.
func IsValid(s string) bool {
	if len(s) != canonicalLen {
		return false
	}
	id, err := uuid.Parse(s)
	return err == nil && id.Version() == 4 && id.Variant() == uuid.RFC4122
}

// Validate returns an error when s is not a canonical-form version 4 UUID.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid action id: %q", s)
	}
	return nil
}

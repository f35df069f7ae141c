// Package ids generates and validates the UUID-shaped identifiers used for
// episodes, patterns, relationships, and tags.
package ids

import "github.com/google/uuid"

// New returns a fresh random identifier.
func New() string {
	return uuid.NewString()
}

// Valid reports whether id is a syntactically valid UUID.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

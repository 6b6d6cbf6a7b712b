package models

import "github.com/google/uuid"

// newID returns a random UUID string used as a primary key.
func newID() string {
	return uuid.NewString()
}

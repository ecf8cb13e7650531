package utils

import "github.com/google/uuid"

// NewID returns a random (v4) unique identifier for messages.
func NewID() string {
	return uuid.NewString()
}

package middleware

import (
	"errors"

	"github.com/google/uuid"

	"github.com/capitalize-ai/chat-demo/internal/script"
)

// ValidateSessionID validates a demo session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateScriptID validates a script ID.
func ValidateScriptID(id string) error {
	if !script.ValidID(id) {
		return errors.New("invalid script ID format")
	}
	return nil
}

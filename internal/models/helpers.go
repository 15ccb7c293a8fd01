package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerateEventID returns a random identifier for outbox events
func GenerateEventID() string {
	return uuid.NewString()
}

// GetCurrentTime returns the current time in UTC
func GetCurrentTime() time.Time {
	return time.Now().UTC()
}

package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a new unique ID with the given prefix
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String())
}

// GetCurrentTime returns the current time in UTC
func GetCurrentTime() time.Time {
	return time.Now().UTC()
}

// GenerateConfirmationToken returns 32 random bytes, hex encoded
func GenerateConfirmationToken() (string, error) {
	buf := make([]byte, 32)

	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate confirmation token: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

// GenerateTrackingNumber builds a carrier-style tracking number from the
// current time and a random suffix.
func GenerateTrackingNumber(now time.Time) string {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		// fall back to uuid entropy
		copy(suffix, uuid.New().NodeID())
	}
	return fmt.Sprintf("TRK%d%s", now.UnixMilli(), hex.EncodeToString(suffix))
}

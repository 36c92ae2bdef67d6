package validation

import (
	"fmt"
	"strings"
	"unicode"
)

const roomNameMaxLength = 100

// ValidateRoomName checks a trimmed room name for length and printable
// characters. Direct rooms skip this: their names are derived.
func ValidateRoomName(name string) error {
	if name == "" {
		return fmt.Errorf("room name cannot be empty")
	}
	if len(name) > roomNameMaxLength {
		return fmt.Errorf("room name must be at most %d characters", roomNameMaxLength)
	}
	if strings.ContainsFunc(name, unicode.IsControl) {
		return fmt.Errorf("room name cannot contain control characters")
	}
	return nil
}

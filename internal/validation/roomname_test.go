package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		room    string
		wantErr bool
	}{
		{"Valid", "Watercooler", false},
		{"With Spaces", "All Hands 2026", false},
		{"Emoji", "🔥 campfire", false},
		{"Empty", "", true},
		{"Max Length", strings.Repeat("a", 100), false},
		{"Too Long", strings.Repeat("a", 101), true},
		{"Control Characters", "bad\x00name", true},
		{"Newline", "two\nlines", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateRoomName(tt.room)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePassword(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"Valid", "hunter2hunter2", false},
		{"Exactly Min Length", "12345678", false},
		{"Exactly Max Length", strings.Repeat("a", 128), false},
		{"Too Short", "short1!", true},
		{"Too Long", strings.Repeat("a", 129), true},
		{"Passphrase", "correct horse battery staple", false},
		{"Unicode Characters", "ångström-pass", false},
		{"Empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

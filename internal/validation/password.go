// Package validation holds input validation rules shared by the account
// and room services.
package validation

import "fmt"

const (
	passwordMinLength = 8
	passwordMaxLength = 128
)

// ValidatePassword enforces the password length bounds. Beyond length the
// rules stay deliberately loose: passphrases beat complexity classes.
func ValidatePassword(password string) error {
	if len(password) < passwordMinLength {
		return fmt.Errorf("password must be at least %d characters", passwordMinLength)
	}
	if len(password) > passwordMaxLength {
		return fmt.Errorf("password must be at most %d characters", passwordMaxLength)
	}
	return nil
}

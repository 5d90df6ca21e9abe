package password

import (
	"errors"
	"fmt"
	"unicode"
)

// MinLength is the shortest password the policy accepts, counted in characters.
const MinLength = 8

// ErrPolicy is wrapped by every policy violation returned from [CheckPolicy].
var ErrPolicy = errors.New("password policy violation")

// CheckPolicy enforces the account password rules: at least MinLength characters
// with one upper-case letter, one digit and one character that is neither a
// letter nor a digit.
func CheckPolicy(password string) error {
	var (
		length                         int
		hasUpper, hasDigit, hasSpecial bool
	)
	for _, r := range password {
		length++
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			hasSpecial = true
		}
	}

	switch {
	case length < MinLength:
		return fmt.Errorf("%w: must be at least %d characters", ErrPolicy, MinLength)
	case !hasUpper:
		return fmt.Errorf("%w: must contain an upper-case letter", ErrPolicy)
	case !hasDigit:
		return fmt.Errorf("%w: must contain a digit", ErrPolicy)
	case !hasSpecial:
		return fmt.Errorf("%w: must contain a special character", ErrPolicy)
	}
	return nil
}

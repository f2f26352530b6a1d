package validator

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrEmptyField is returned when a required field is empty
	ErrEmptyField = errors.New("field cannot be empty")
	// ErrInvalidSource is returned when a source id cannot be used as a key
	ErrInvalidSource = errors.New("invalid source identifier")
)

// MaxSourceLength bounds operator-supplied source ids.
const MaxSourceLength = 64

// Required checks if a string field is not empty
func Required(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New(fieldName + " is required")
	}
	return nil
}

// MaxLength checks if string doesn't exceed maximum length
func MaxLength(value string, max int, fieldName string) error {
	if len(value) > max {
		return errors.New(fieldName + " must not exceed " + strconv.Itoa(max) + " characters")
	}
	return nil
}

// SourceID accepts IP addresses and opaque ids alike, as long as they are
// short and free of whitespace and control characters.
func SourceID(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrEmptyField
	}
	if len(value) > MaxSourceLength {
		return ErrInvalidSource
	}
	for _, r := range value {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrInvalidSource
		}
	}
	return nil
}

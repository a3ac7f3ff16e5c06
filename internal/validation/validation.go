package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/kjstillabower/drive-side-service/internal/filter"
	"github.com/kjstillabower/drive-side-service/internal/models"
)

// ErrNameEmpty is returned when a country name is empty or whitespace-only after trim.
var ErrNameEmpty = errors.New("country name is required")

// ErrNameTooLong is returned when a country name exceeds the maximum length.
var ErrNameTooLong = errors.New("country name too long")

// ErrNameInvalidChars is returned when a country name contains disallowed characters.
var ErrNameInvalidChars = errors.New("country name contains invalid characters")

// ErrNoCountries is returned when an upsert batch is empty.
var ErrNoCountries = errors.New("at least one country is required")

// ValidateName trims the input, enforces maxLen (in runes, 0 = unbounded) and restricts
// to letters (Unicode), digits, space, comma, hyphen, period, apostrophe and parentheses.
// Returns the trimmed name.
func ValidateName(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrNameEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrNameTooLong
	}
	for _, c := range r {
		if !isAllowedNameRune(c) {
			return "", ErrNameInvalidChars
		}
	}
	return s, nil
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'', '(', ')':
		return true
	}
	return false
}

// ValidateCountries checks an upsert batch and returns a copy with trimmed names.
// The error names the offending index.
func ValidateCountries(countries []models.Country, maxNameLen int) ([]models.Country, error) {
	if len(countries) == 0 {
		return nil, ErrNoCountries
	}
	out := make([]models.Country, 0, len(countries))
	for i, c := range countries {
		name, err := ValidateName(c.Name, maxNameLen)
		if err != nil {
			return nil, fmt.Errorf("countries[%d]: %w", i, err)
		}
		if err := filter.ValidateDriveSide(c.DriveSide); err != nil {
			return nil, fmt.Errorf("countries[%d]: %w", i, err)
		}
		out = append(out, models.Country{Name: name, DriveSide: c.DriveSide})
	}
	return out, nil
}

// IsValidationError reports whether err rejects caller input rather than signalling a
// storage or remote failure.
func IsValidationError(err error) bool {
	return errors.Is(err, filter.ErrInvalidDriveSide) ||
		errors.Is(err, ErrNameEmpty) ||
		errors.Is(err, ErrNameTooLong) ||
		errors.Is(err, ErrNameInvalidChars) ||
		errors.Is(err, ErrNoCountries)
}

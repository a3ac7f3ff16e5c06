package filter

import (
	"errors"

	"github.com/kjstillabower/drive-side-service/internal/models"
)

// ErrInvalidDriveSide is matched by every error returned for an unrecognized side token.
var ErrInvalidDriveSide = errors.New("invalid drive side")

// InvalidDriveSideError carries the rejected token.
type InvalidDriveSideError struct {
	Side string
}

func (e *InvalidDriveSideError) Error() string {
	return "Invalid drive side: " + e.Side
}

// Is makes errors.Is(err, ErrInvalidDriveSide) true.
func (e *InvalidDriveSideError) Is(target error) bool {
	return target == ErrInvalidDriveSide
}

// ValidateDriveSide returns an *InvalidDriveSideError unless side is "left" or "right".
func ValidateDriveSide(side string) error {
	if !models.IsValidDriveSide(side) {
		return &InvalidDriveSideError{Side: side}
	}
	return nil
}

// FilterByDriveSide returns the countries whose DriveSide equals side, in input order.
// The input slice is not modified. Fails with ErrInvalidDriveSide for unknown tokens.
func FilterByDriveSide(countries []models.Country, side string) ([]models.Country, error) {
	if err := ValidateDriveSide(side); err != nil {
		return nil, err
	}
	out := make([]models.Country, 0, len(countries))
	for _, c := range countries {
		if c.DriveSide == side {
			out = append(out, c)
		}
	}
	return out, nil
}

package models

// Drive side tokens. Matching is exact and case-sensitive.
const (
	DriveSideLeft  = "left"
	DriveSideRight = "right"
)

// Country is a single row of the countries table. Name is the identity key.
type Country struct {
	Name      string `json:"name" yaml:"name"`
	DriveSide string `json:"driveSide" yaml:"driveSide"`
}

// IsValidDriveSide reports whether s is one of the recognized drive side tokens.
func IsValidDriveSide(s string) bool {
	return s == DriveSideLeft || s == DriveSideRight
}

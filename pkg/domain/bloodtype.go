package domain

import "strings"

// BloodType is one of the eight ABO/Rh combinations.
type BloodType string

// Supported blood types.
const (
	BloodAPos  BloodType = "A+"
	BloodANeg  BloodType = "A-"
	BloodBPos  BloodType = "B+"
	BloodBNeg  BloodType = "B-"
	BloodABPos BloodType = "AB+"
	BloodABNeg BloodType = "AB-"
	BloodOPos  BloodType = "O+"
	BloodONeg  BloodType = "O-"
)

// BloodTypes returns every supported blood type sorted by label.
func BloodTypes() []BloodType {
	return []BloodType{BloodAPos, BloodANeg, BloodABPos, BloodABNeg, BloodBPos, BloodBNeg, BloodOPos, BloodONeg}
}

// Valid reports whether b is a supported blood type.
func (b BloodType) Valid() bool {
	switch b {
	case BloodAPos, BloodANeg, BloodBPos, BloodBNeg, BloodABPos, BloodABNeg, BloodOPos, BloodONeg:
		return true
	}
	return false
}

func (b BloodType) String() string { return string(b) }

// ParseBloodType normalizes case and surrounding whitespace before validating.
func ParseBloodType(raw string) (BloodType, error) {
	bt := BloodType(strings.ToUpper(strings.TrimSpace(raw)))
	if !bt.Valid() {
		return "", Errorf(KindInvalidArgument, "unknown blood type %q", raw)
	}
	return bt, nil
}

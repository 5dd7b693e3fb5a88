package credential

import "unicode"

// Password policy bounds. bcrypt ignores input past 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// StrengthResult lists every rule a password violates.
type StrengthResult struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons,omitempty"`
}

// CheckStrength evaluates pw against the password policy.
func CheckStrength(pw string) StrengthResult {
	var reasons []string
	if len([]rune(pw)) < MinPasswordLength {
		reasons = append(reasons, "must be at least 8 characters")
	}
	if len(pw) > MaxPasswordLength {
		reasons = append(reasons, "must be at most 72 bytes")
	}

	var upper, lower, digit bool
	for _, c := range pw {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		case unicode.IsDigit(c):
			digit = true
		}
	}
	if !upper {
		reasons = append(reasons, "must contain an uppercase letter")
	}
	if !lower {
		reasons = append(reasons, "must contain a lowercase letter")
	}
	if !digit {
		reasons = append(reasons, "must contain a digit")
	}
	return StrengthResult{Valid: len(reasons) == 0, Reasons: reasons}
}

package auth

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/credential"
)

var (
	phonePattern    = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)
)

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validEmail accepts a bare addr-spec only, no display names.
func validEmail(s string) bool {
	if s == "" || len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@")+1:], ".")
}

func validateRegister(in *RegisterInput) map[string]string {
	fields := map[string]string{}
	switch {
	case in.Email == "":
		fields["email"] = "is required"
	case !validEmail(in.Email):
		fields["email"] = "is not a valid email address"
	}
	switch {
	case in.PhoneNumber == "":
		fields["phone_number"] = "is required"
	case !phonePattern.MatchString(in.PhoneNumber):
		fields["phone_number"] = "must be 7 to 15 digits, optionally prefixed with +"
	}
	if in.Username != "" && !usernamePattern.MatchString(in.Username) {
		fields["username"] = "must be 3 to 32 letters, digits, '.', '_' or '-'"
	}
	if in.Password == "" {
		fields["password"] = "is required"
	} else if res := credential.CheckStrength(in.Password); !res.Valid {
		fields["password"] = strings.Join(res.Reasons, "; ")
	}
	return fields
}

func validateLogin(email, password string) map[string]string {
	fields := map[string]string{}
	if email == "" {
		fields["email"] = "is required"
	}
	if password == "" {
		fields["password"] = "is required"
	}
	return fields
}

package validator

import (
	"regexp"
	"strings"
)

var (
	jobIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)
)

// ValidateJobID accepts caller-supplied ids that are safe to log and use as keys
func ValidateJobID(id string) bool {
	return jobIDRegex.MatchString(id)
}

func ValidateRequired(value string) bool {
	return strings.TrimSpace(value) != ""
}

// BearerToken extracts the token from an Authorization header value.
// The token must have the header.payload.signature shape of a JWT.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if strings.Count(token, ".") != 2 {
		return "", false
	}
	for _, part := range strings.Split(token, ".") {
		if part == "" {
			return "", false
		}
	}
	return token, true
}

package service

import (
	"go-admission-api/common"
	"strings"
)

// ParseCredential extracts the token from an Authorization header value.
// Both "Bearer <token>" and a bare token are accepted.
func ParseCredential(header string) (string, error) {
	parts := strings.Fields(header)
	switch len(parts) {
	case 0:
		return "", common.ErrMissingCredential
	case 1:
		if strings.EqualFold(parts[0], "bearer") {
			return "", common.ErrMalformedCredential
		}
		return parts[0], nil
	case 2:
		if !strings.EqualFold(parts[0], "bearer") {
			return "", common.ErrMalformedCredential
		}
		return parts[1], nil
	default:
		return "", common.ErrMalformedCredential
	}
}

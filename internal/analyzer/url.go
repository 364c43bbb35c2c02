package analyzer

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned when an input URL cannot be normalized.
var ErrInvalidURL = errors.New("invalid url")

// ValidateURL normalizes an input URL for analysis.
// A missing scheme defaults to http, a host is required, and the result
// is reduced to scheme://host.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

package tracker

import (
	"net/url"
	"regexp"
	"strings"
)

var rePostalCode = regexp.MustCompile(`^\d{6}$`)

// ValidatePostalCode accepts exactly six decimal digits.
func ValidatePostalCode(code string) error {
	if !rePostalCode.MatchString(code) {
		return &ValidationError{Field: "postal code", Value: code, Reason: "must be exactly 6 digits"}
	}
	return nil
}

// ValidateProductURL accepts http(s) URLs whose host contains storefrontHost.
func ValidateProductURL(ref, storefrontHost string) error {
	fail := func(reason string) error {
		return &ValidationError{Field: "product link", Value: ref, Reason: reason}
	}
	lower := strings.ToLower(ref)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return fail("must start with http:// or https://")
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return fail("not a valid URL")
	}
	host := strings.ToLower(strings.TrimSpace(storefrontHost))
	if host != "" && !strings.Contains(strings.ToLower(u.Host), host) {
		return fail("must be a " + host + " product page")
	}
	return nil
}

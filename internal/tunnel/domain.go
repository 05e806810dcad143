package tunnel

import (
	"strings"

	"labelctl/internal/errdefs"
)

// NormalizeDomain trims and lower-cases d, then checks it against DNS
// hostname grammar: dot-separated labels of letters, digits and hyphens,
// no label starting or ending with a hyphen, and a final label of at
// least two letters.
func NormalizeDomain(d string) (string, error) {
	norm := strings.ToLower(strings.TrimSpace(d))
	norm = strings.TrimSuffix(norm, ".")
	if err := validateDomain(norm); err != nil {
		return "", err
	}
	return norm, nil
}

func validateDomain(d string) error {
	if d == "" {
		return errdefs.Validation("domain is empty")
	}
	if len(d) > 253 {
		return errdefs.Validation("domain %q is longer than 253 characters", d)
	}
	labels := strings.Split(d, ".")
	if len(labels) < 2 {
		return errdefs.Validation("domain %q needs at least two labels", d)
	}
	for _, label := range labels {
		if label == "" {
			return errdefs.Validation("domain %q contains an empty label", d)
		}
		if len(label) > 63 {
			return errdefs.Validation("domain %q has a label longer than 63 characters", d)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return errdefs.Validation("domain %q has a label starting or ending with a hyphen", d)
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' {
				return errdefs.Validation("domain %q contains invalid character %q", d, r)
			}
		}
	}
	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return errdefs.Validation("domain %q has a top-level label shorter than two letters", d)
	}
	for _, r := range tld {
		if r < 'a' || r > 'z' {
			return errdefs.Validation("domain %q has a non-alphabetic top-level label", d)
		}
	}
	return nil
}

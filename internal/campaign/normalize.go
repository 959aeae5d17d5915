package campaign

import (
	"fmt"
	"strings"
)

const (
	minTargetDigits = 8
	maxTargetDigits = 15
	// localDigits is the bare national-number length that gets the
	// default country prefix prepended.
	localDigits = 10
)

// NormalizeTarget canonicalizes one phone identifier: strip everything
// but digits, then prepend the country prefix when the bare digit count
// indicates a local-format number.
func NormalizeTarget(raw, countryPrefix string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) < minTargetDigits {
		return "", fmt.Errorf("target %q: too few digits", raw)
	}
	if len(digits) > maxTargetDigits {
		return "", fmt.Errorf("target %q: too many digits", raw)
	}
	if len(digits) == localDigits && countryPrefix != "" {
		digits = countryPrefix + digits
	}
	return digits, nil
}

// NormalizeTargets canonicalizes and deduplicates a target list,
// preserving first-seen order. Invalid entries are returned separately so
// the caller can decide whether partial rejection is acceptable.
func NormalizeTargets(raw []string, countryPrefix string) (valid, rejected []string) {
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		t, err := NormalizeTarget(r, countryPrefix)
		if err != nil {
			rejected = append(rejected, r)
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		valid = append(valid, t)
	}
	return valid, rejected
}

// Render substitutes personalization placeholders into a variant text.
func Render(text, phone, name string) string {
	return strings.NewReplacer(
		"{phone}", phone,
		"{name}", name,
	).Replace(text)
}

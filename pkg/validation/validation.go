// Package validation holds the synchronous input checks that run before any gateway call.
package validation

import (
	"strings"

	"github.com/polisai/crdp-orchestrator/pkg/domain"
)

// ProtectDigits is the exact number of ASCII digits a protect input must contain.
const ProtectDigits = 13

// ValidateProtect accepts exactly 13 ASCII digits: no whitespace, sign or separators.
func ValidateProtect(data string) error {
	if len(data) != ProtectDigits {
		return formatMismatch()
	}
	for i := 0; i < len(data); i++ {
		if data[i] < '0' || data[i] > '9' {
			return formatMismatch()
		}
	}
	return nil
}

func formatMismatch() error {
	return &domain.ValidationError{
		Field:   "data",
		Reason:  domain.ReasonFormatMismatch,
		Message: "input must be exactly 13 digits",
	}
}

// ValidateReveal requires a token that is non-empty after trimming.
func ValidateReveal(protectedData string) error {
	if strings.TrimSpace(protectedData) == "" {
		return &domain.ValidationError{
			Field:   "protected_data",
			Reason:  domain.ReasonEmpty,
			Message: "protected token is required",
		}
	}
	return nil
}

// SplitLines turns a multi-line block into bulk items: split on line feed, trim each
// segment, drop empty segments. Order and duplicates are preserved.
func SplitLines(block string) []string {
	items := make([]string, 0, strings.Count(block, "\n")+1)
	for _, line := range strings.Split(block, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			items = append(items, line)
		}
	}
	return items
}

// ValidateBulk returns ErrNothingToSubmit when block yields no items. Callers treat that
// as a disabled trigger rather than a displayed error.
func ValidateBulk(block string) ([]string, error) {
	items := SplitLines(block)
	if len(items) == 0 {
		return nil, domain.ErrNothingToSubmit
	}
	return items, nil
}

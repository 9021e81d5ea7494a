package staffcreate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fieldops/workflow-engine/pkg/wferrors"
)

// nameRe accepts Latin, Cyrillic, space, hyphen, and apostrophe — enough to
// cover "O'Connor", "Jean-Pierre", and "Алиев Вали" while rejecting
// anything numeric or symbol-heavy.
var nameRe = regexp.MustCompile(`^[\p{L}][\p{L} '\-]*[\p{L}]$|^[\p{L}]{2}$`)

// ValidateFullName enforces the 2–100 character, letters/space/hyphen/
// apostrophe rule for client names.
func ValidateFullName(name string) error {
	name = strings.TrimSpace(name)
	length := utf8.RuneCountInString(name)
	if length < 2 || length > 100 {
		return wferrors.Data("full_name", "full name must be between 2 and 100 characters")
	}
	if !nameRe.MatchString(name) {
		return wferrors.Data("full_name", "full name must contain only letters, spaces, hyphens, or apostrophes")
	}
	return nil
}

// ValidateAddress enforces the optional, ≤500 character address rule.
func ValidateAddress(address string) error {
	if utf8.RuneCountInString(address) > 500 {
		return wferrors.Data("address", "address must be 500 characters or fewer")
	}
	return nil
}

// ValidLanguages enumerates the two supported language tags.
var ValidLanguages = map[string]bool{"uz": true, "ru": true}

// ValidateLanguage enforces language ∈ {uz, ru}.
func ValidateLanguage(language string) error {
	if language == "" {
		return nil
	}
	if !ValidLanguages[language] {
		return wferrors.Data("language", fmt.Sprintf("unsupported language %q", language))
	}
	return nil
}

// ValidateDescription enforces the 10–1000 character application
// description rule.
func ValidateDescription(description string) error {
	length := utf8.RuneCountInString(strings.TrimSpace(description))
	if length < 10 || length > 1000 {
		return wferrors.Data("description", "description must be between 10 and 1000 characters")
	}
	return nil
}

// ValidateLocation enforces the non-empty location rule.
func ValidateLocation(location string) error {
	if strings.TrimSpace(location) == "" {
		return wferrors.Data("location", "location is required")
	}
	return nil
}

// ValidateIssueType enforces the technical-workflow-only non-empty
// issue_type rule.
func ValidateIssueType(issueType string) error {
	if strings.TrimSpace(issueType) == "" {
		return wferrors.Data("issue_type", "issue_type is required for technical service requests")
	}
	return nil
}

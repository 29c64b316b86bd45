package validation

import (
	"strings"
	"unicode/utf8"

	"strata/internal/errors"
)

const (
	MaxNameLength        = 128
	MaxDescriptionLength = 2048
	MaxAuthorLength      = 256
)

type Validator interface {
	Validate() error
}

// ValidateRepoMetadata checks the user-editable repository fields.
func ValidateRepoMetadata(name, description string) error {
	fields := map[string]string{}

	switch {
	case strings.TrimSpace(name) == "":
		fields["name"] = "name is required"
	case utf8.RuneCountInString(name) > MaxNameLength:
		fields["name"] = "name is too long"
	case strings.ContainsAny(name, "\n\r\t"):
		fields["name"] = "name must be a single line"
	}

	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		fields["description"] = "description is too long"
	}
	if !utf8.ValidString(name) || !utf8.ValidString(description) {
		fields["encoding"] = "fields must be valid UTF-8"
	}

	if len(fields) > 0 {
		return errors.ValidationError("invalid repository metadata", fields)
	}
	return nil
}

// ValidateCommitInfo checks author and message before a commit is written.
func ValidateCommitInfo(author, message string) error {
	if strings.TrimSpace(author) == "" {
		return errors.ValidationError("author is required", nil)
	}
	if utf8.RuneCountInString(author) > MaxAuthorLength {
		return errors.ValidationError("author is too long", nil)
	}
	if strings.TrimSpace(message) == "" {
		return errors.ValidationError("commit message is required", nil)
	}
	return nil
}

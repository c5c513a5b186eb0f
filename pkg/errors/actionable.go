// Package errors classifies per-file backup failures and attaches
// actionable suggestions to them.
//
// Basic Usage:
//
//	enricher := errors.NewEnricher()
//	if err := copyOne(path); err != nil {
//	    enriched := enricher.Enrich(err, path)
//	    logger.Warningf("%v\n%s", enriched, errors.FormatSuggestions(enriched))
//	}
//
// When no path is given the enricher extracts one from messages such as
// "open /home/user/file.txt: permission denied".
package errors

import (
	stderrors "errors"
	"strings"
)

// Exported constants.
const (
	CategoryCopy        ErrorCategory = "copy"
	CategoryDelete      ErrorCategory = "delete"
	CategoryDiskSpace   ErrorCategory = "disk_space"
	CategoryLocked      ErrorCategory = "locked"
	CategoryPath        ErrorCategory = "path"
	CategoryPathTooLong ErrorCategory = "path_too_long"
	CategoryPermission  ErrorCategory = "permission"
	CategoryUnknown     ErrorCategory = "unknown"
)

// ActionableError represents an error with actionable suggestions for the user.
type ActionableError interface {
	error
	OriginalError() string
	Category() ErrorCategory
	Suggestions() []string
	AffectedPath() string
}

// NewActionableError creates a new ActionableError with the given details.
func NewActionableError(
	originalError string,
	category ErrorCategory,
	suggestions []string,
	affectedPath string,
) ActionableError {
	return &actionableError{
		originalError: originalError,
		category:      category,
		suggestions:   suggestions,
		affectedPath:  affectedPath,
	}
}

// ErrorCategory represents the type of error that occurred.
type ErrorCategory string

// CategoryOf returns the category of an ActionableError anywhere in err's
// chain, or CategoryUnknown.
func CategoryOf(err error) ErrorCategory {
	var actionable ActionableError
	if stderrors.As(err, &actionable) {
		return actionable.Category()
	}

	return CategoryUnknown
}

// FormatSuggestions formats the suggestions from an ActionableError as a
// bulleted list. Returns empty string if the error is nil or has no suggestions.
func FormatSuggestions(err error) string {
	var actionable ActionableError
	if err == nil || !stderrors.As(err, &actionable) {
		return ""
	}

	suggestions := actionable.Suggestions()
	if len(suggestions) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, suggestion := range suggestions {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("  • ")
		builder.WriteString(suggestion)
	}

	return builder.String()
}

// actionableError is the concrete implementation of ActionableError.
type actionableError struct {
	originalError string
	category      ErrorCategory
	suggestions   []string
	affectedPath  string
	cause         error
}

// AffectedPath returns the file path affected by this error.
func (e *actionableError) AffectedPath() string {
	return e.affectedPath
}

// Category returns the error category.
func (e *actionableError) Category() ErrorCategory {
	return e.category
}

// Error implements the error interface.
func (e *actionableError) Error() string {
	return e.originalError
}

// OriginalError returns the original error message.
func (e *actionableError) OriginalError() string {
	return e.originalError
}

// Suggestions returns the list of actionable suggestions.
func (e *actionableError) Suggestions() []string {
	return e.suggestions
}

// Unwrap returns the enriched error, if any.
func (e *actionableError) Unwrap() error {
	return e.cause
}

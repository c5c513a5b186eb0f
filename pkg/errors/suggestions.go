package errors

import "fmt"

// SuggestionGenerator generates actionable suggestions based on error category.
type SuggestionGenerator interface {
	Generate(category ErrorCategory, affectedPath string) []string
}

// NewSuggestionGenerator creates a new SuggestionGenerator.
func NewSuggestionGenerator() SuggestionGenerator {
	return suggestionTable{}
}

// hint is a category's advice: fixed lines, then lines about the path when known.
type hint struct {
	general []string
	forPath func(path string) []string
}

var hints = map[ErrorCategory]hint{
	CategoryPermission: {
		general: []string{
			"Give the backup account read access to the source and write access to the target",
		},
		forPath: func(p string) []string {
			return []string{fmt.Sprintf("Inspect the owner and mode of %s with 'ls -la'", p)}
		},
	},
	CategoryDiskSpace: {
		general: []string{
			"Free space on the target volume or point the job at a larger one",
			"Consider a Differential job so unchanged files are not rewritten",
		},
		forPath: func(p string) []string {
			return []string{"Run 'df -h' on the volume holding " + p}
		},
	},
	CategoryPath: {
		general: []string{
			"Check the job's source and target locations with 'multisave list'",
		},
		forPath: func(p string) []string {
			return []string{p + " or one of its parent directories does not exist"}
		},
	},
	CategoryDelete: {
		general: []string{
			"A directory is only pruned once every file below it is gone",
			"Re-run the job after the files it still holds have been pruned",
		},
		forPath: func(p string) []string {
			return []string{fmt.Sprintf("See what remains with 'ls -la %s'", p)}
		},
	},
	CategoryLocked: {
		general: []string{
			"Close the application holding the file open",
			"Pause the job and resume it once the file is released",
		},
		forPath: func(p string) []string {
			return []string{"Find the holder with 'lsof " + p + "'"}
		},
	},
	CategoryPathTooLong: {
		general: []string{
			"Shorten the target directory of the job",
			"Rename deeply nested directories in the source",
		},
		forPath: func(p string) []string {
			return []string{fmt.Sprintf("The offending path is %d characters long", len(p))}
		},
	},
	CategoryCopy: {
		general: []string{
			"Start the job again; the failed file is retried on the next run",
			"Check the target device and the system log for I/O errors",
		},
	},
}

var fallback = hint{
	general: []string{
		"Read the job's transfer log for the failing file",
		"Check permissions and free space on both sides of the job",
	},
	forPath: func(p string) []string {
		return []string{"Make sure " + p + " is reachable"}
	},
}

type suggestionTable struct{}

// Generate implements SuggestionGenerator.
func (suggestionTable) Generate(category ErrorCategory, affectedPath string) []string {
	h, ok := hints[category]
	if !ok {
		h = fallback
	}

	suggestions := append([]string(nil), h.general...)

	if affectedPath != "" && h.forPath != nil {
		suggestions = append(suggestions, h.forPath(affectedPath)...)
	}

	return suggestions
}

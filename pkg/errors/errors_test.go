package errors_test

import (
	stderrors "errors"
	"fmt"
	"os"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/joe/multisave/pkg/errors"
)

func TestPatternMatcher(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		errorMsg string
		expected errors.ErrorCategory
	}{
		{"open /x: PERMISSION DENIED", errors.CategoryPermission},
		{"No Space Left On Device", errors.CategoryDiskSpace},
		{"open /x: no such file or directory", errors.CategoryPath},
		{"remove /d: directory not empty", errors.CategoryDelete},
		{"short write", errors.CategoryCopy},
		{"The process cannot access the file because it is being used by another process", errors.CategoryLocked},
		{"open /deep/path: file name too long", errors.CategoryPathTooLong},
		{"something odd", errors.CategoryUnknown},
	}

	matcher := errors.NewPatternMatcher()

	for _, testCase := range testCases {
		t.Run(testCase.errorMsg, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			g.Expect(matcher.Match(testCase.errorMsg)).Should(Equal(testCase.expected))
		})
	}
}

func TestEnrichExtractsPath(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	enriched := errors.NewEnricher().Enrich(
		stderrors.New("open /home/user/file.txt: permission denied"), "")

	var actionable errors.ActionableError
	g.Expect(stderrors.As(enriched, &actionable)).Should(BeTrue())
	g.Expect(actionable.AffectedPath()).Should(Equal("/home/user/file.txt"))
	g.Expect(actionable.Category()).Should(Equal(errors.CategoryPermission))
	g.Expect(actionable.Suggestions()).Should(ContainElement(ContainSubstring("/home/user/file.txt")))
}

func TestEnrichKeepsCause(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	cause := fmt.Errorf("failed to open /src/a: %w", os.ErrNotExist)
	enriched := errors.NewEnricher().Enrich(cause, "/src/a")

	g.Expect(stderrors.Is(enriched, os.ErrNotExist)).Should(BeTrue())
	g.Expect(enriched.Error()).Should(Equal(cause.Error()))
	g.Expect(errors.CategoryOf(enriched)).Should(Equal(errors.CategoryPath))
}

func TestEnrichIsIdempotent(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	enricher := errors.NewEnricher()
	once := enricher.Enrich(stderrors.New("resource busy"), "/f")

	g.Expect(enricher.Enrich(once, "/other")).Should(BeIdenticalTo(once))
}

func TestFormatSuggestions(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	err := errors.NewActionableError("boom", errors.CategoryUnknown, []string{"one", "two"}, "")

	g.Expect(errors.FormatSuggestions(err)).Should(Equal("  • one\n  • two"))
	g.Expect(errors.FormatSuggestions(fmt.Errorf("wrapped: %w", err))).Should(Equal("  • one\n  • two"))
	g.Expect(errors.FormatSuggestions(stderrors.New("plain"))).Should(BeEmpty())
	g.Expect(errors.FormatSuggestions(nil)).Should(BeEmpty())
	g.Expect(errors.CategoryOf(stderrors.New("plain"))).Should(Equal(errors.CategoryUnknown))
}

package config

import (
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// ParseJobSelection parses a 1-based job selection into zero-based indices.
// Accepted forms are a single number ("2"), an inclusive range ("1-3") and a
// semicolon list ("1;2;4") whose items may themselves be ranges. Duplicates
// are dropped; first-seen order is kept.
func ParseJobSelection(text string) ([]int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.NotValidf("empty job selection")
	}

	seen := make(map[int]bool)
	indices := make([]int, 0)

	for _, item := range strings.Split(text, ";") {
		first, last, err := parseSelectionItem(strings.TrimSpace(item))
		if err != nil {
			return nil, errors.Annotatef(err, "job selection %q", text)
		}

		for n := first; n <= last; n++ {
			if !seen[n] {
				seen[n] = true
				indices = append(indices, n-1)
			}
		}
	}

	return indices, nil
}

func parseSelectionItem(item string) (int, int, error) {
	if item == "" {
		return 0, 0, errors.NotValidf("empty item")
	}

	lo, hi, isRange := strings.Cut(item, "-")
	if !isRange {
		n, err := parseJobNumber(item)
		return n, n, err
	}

	first, err := parseJobNumber(lo)
	if err != nil {
		return 0, 0, err
	}

	last, err := parseJobNumber(hi)
	if err != nil {
		return 0, 0, err
	}

	if last < first {
		return 0, 0, errors.NotValidf("range %q", item)
	}

	return first, last, nil
}

// maxJobNumber bounds ranges so a typo cannot expand into millions of indices.
const maxJobNumber = 1000

func parseJobNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > maxJobNumber {
		return 0, errors.NotValidf("job number %q", s)
	}

	return n, nil
}

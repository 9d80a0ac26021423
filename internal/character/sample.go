package character

import "strings"

// Sampling defaults.
const (
	DefaultSampleChapters = 3
	DefaultSampleBudget   = 8000
)

// SampleChapters joins the first n chapters with blank lines and truncates
// the result to budget runes. Non-positive n or budget select the defaults.
func SampleChapters(chapters []string, n, budget int) string {
	if n <= 0 {
		n = DefaultSampleChapters
	}
	if budget <= 0 {
		budget = DefaultSampleBudget
	}
	if len(chapters) > n {
		chapters = chapters[:n]
	}
	return truncateRunes(strings.Join(chapters, "\n\n"), budget)
}

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

package normalizer

import "strings"

// Complexity score bounds.
const (
	MinComplexity     = 1
	MaxComplexity     = 5
	DefaultComplexity = 3
)

var complexKeywords = []string{"sponsor", "petition", "labor certification", "priority date", "quota"}

// ComplexityScore rates a policy from 1 to 5.
//
// Duration and cost thresholds are checked independently, so a 200 day
// process gains two points and a 6000 USD fee gains two points.
func ComplexityScore(requirements []string, durationDays *int, costUSD *float64) int {
	score := MinComplexity

	switch n := len(requirements); {
	case n > 10:
		score += 2
	case n > 5:
		score++
	}

	if durationDays != nil {
		if *durationDays > 180 {
			score++
		}

		if *durationDays > 90 {
			score++
		}
	}

	if costUSD != nil {
		if *costUSD > 5000 {
			score++
		}

		if *costUSD > 1000 {
			score++
		}
	}

	if hasComplexKeyword(requirements) {
		score++
	}

	return min(score, MaxComplexity)
}

func hasComplexKeyword(requirements []string) bool {
	for _, req := range requirements {
		lower := strings.ToLower(req)

		for _, kw := range complexKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}

	return false
}

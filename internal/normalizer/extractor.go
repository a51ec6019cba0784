package normalizer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// costPattern is a currency-specific amount pattern with its USD multiplier.
type costPattern struct {
	re         *regexp.Regexp
	currency   string
	multiplier float64
}

// amount matches 1200, 1,200 and 1,200.50.
const amount = `(\d+(?:,\d{3})*(?:\.\d{2})?)`

// costPatterns are checked in order; USD forms come first. The multipliers
// are fixed approximations.
var costPatterns = []costPattern{
	{regexp.MustCompile(`(?i)\$` + amount), "USD", 1.0},
	{regexp.MustCompile(`(?i)` + amount + `\s*(?:USD|dollars?)`), "USD", 1.0},
	{regexp.MustCompile(`(?i)` + amount + `\s*(?:CAD|Canadian\s+dollars?)`), "CAD", 0.75},
	{regexp.MustCompile(`(?i)` + amount + `\s*(?:GBP|pounds?)`), "GBP", 1.25},
	{regexp.MustCompile(`(?i)` + amount + `\s*(?:AUD|Australian\s+dollars?)`), "AUD", 0.65},
	{regexp.MustCompile(`(?i)` + amount + `\s*(?:EUR|euros?)`), "EUR", 1.10},
}

// durationPatterns are checked in order. Group 1 is the lower bound, group 2
// the optional upper bound and the last group the unit word.
var durationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+)\s*(?:to\s*)?(\d+)?\s*(?:business\s*)?(?:working\s*)?(days?|weeks?|months?)`),
	regexp.MustCompile(`(?i)(\d+)\s*(days?|weeks?|months?)`),
}

// ExtractCost returns the first currency amount found in text, converted to
// USD and rounded to cents. It returns nil when nothing parses.
func ExtractCost(text string) *float64 {
	cost, _ := matchCost(text)

	return cost
}

// matchCost is ExtractCost that also reports the matched currency.
func matchCost(text string) (*float64, string) {
	for _, p := range costPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}

		cost := math.Round(value*p.multiplier*100) / 100

		return &cost, p.currency
	}

	return nil, ""
}

// ExtractDurationDays returns the processing time found in text. A range
// resolves to the integer average of its bounds. Unit words are matched but
// only converted to days when convertUnits is set.
func ExtractDurationDays(text string, convertUnits bool) *int {
	for _, re := range durationPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		low, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		high := low

		if len(m) == 4 && m[2] != "" {
			if high, err = strconv.Atoi(m[2]); err != nil {
				continue
			}
		}

		if convertUnits {
			factor := unitFactor(m[len(m)-1])
			low *= factor
			high *= factor
		}

		days := (low + high) / 2

		return &days
	}

	return nil
}

func unitFactor(unit string) int {
	switch u := strings.ToLower(unit); {
	case strings.HasPrefix(u, "week"):
		return 7
	case strings.HasPrefix(u, "month"):
		return 30
	default:
		return 1
	}
}

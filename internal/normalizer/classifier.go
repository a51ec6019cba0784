package normalizer

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// minRequirementRunes is the shortest cleaned requirement that is kept.
const minRequirementRunes = 6

var disallowedRequirementChars = regexp.MustCompile(`[^\p{L}\p{N}_\s\-.,()]`)

// eligibilityPatterns denote obligation or eligibility language.
var eligibilityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:must|require|need|eligible|qualify).*?(?:be|have|hold|possess|maintain)`),
	regexp.MustCompile(`(?i)(?:minimum|at least|no less than).*?(?:years?|months?|experience|education)`),
	regexp.MustCompile(`(?i)(?:prove|demonstrate|show|provide).*?(?:evidence|proof|documentation)`),
}

// documentPattern maps a document-name pattern to its canonical label.
type documentPattern struct {
	re    *regexp.Regexp
	label string
}

var documentPatterns = []documentPattern{
	{regexp.MustCompile(`(?i)passport`), "passport"},
	{regexp.MustCompile(`(?i)birth\s+certificate`), "birth certificate"},
	{regexp.MustCompile(`(?i)marriage\s+certificate`), "marriage certificate"},
	{regexp.MustCompile(`(?i)police\s+(?:certificate|clearance|record)`), "police certificate"},
	{regexp.MustCompile(`(?i)medical\s+(?:examination|certificate|report)`), "medical examination"},
	{regexp.MustCompile(`(?i)financial\s+(?:statement|evidence|proof)`), "financial evidence"},
	{regexp.MustCompile(`(?i)employment\s+(?:letter|contract|offer)`), "employment letter"},
	{regexp.MustCompile(`(?i)education\s+(?:diploma|degree|certificate)`), "education credential"},
	{regexp.MustCompile(`(?i)language\s+(?:test|certificate|proficiency)`), "language test"},
	{regexp.MustCompile(`(?i)photograph`), "photograph"},
	{regexp.MustCompile(`(?i)application\s+form`), "application form"},
	{regexp.MustCompile(`(?i)fee\s+payment`), "fee payment"},
	{regexp.MustCompile(`(?i)bank\s+statement`), "bank statement"},
	{regexp.MustCompile(`(?i)tax\s+return`), "tax return"},
	{regexp.MustCompile(`(?i)resume`), "resume"},
	{regexp.MustCompile(`(?i)cover\s+letter`), "cover letter"},
	{regexp.MustCompile(`(?i)reference\s+letter`), "reference letter"},
	{regexp.MustCompile(`(?i)criminal\s+record\s+check`), "criminal record check"},
	{regexp.MustCompile(`(?i)health\s+insurance`), "health insurance"},
	{regexp.MustCompile(`(?i)proof\s+of\s+funds`), "proof of funds"},
}

// NormalizeRequirements cleans requirement text and drops noise fragments.
// Applying it twice yields the same result as applying it once.
func NormalizeRequirements(requirements []string) []string {
	normalized := make([]string, 0, len(requirements))

	for _, req := range requirements {
		cleaned := disallowedRequirementChars.ReplaceAllString(req, "")
		cleaned = strings.Join(strings.Fields(cleaned), " ")

		if utf8.RuneCountInString(cleaned) < minRequirementRunes {
			continue
		}

		normalized = append(normalized, cleaned)
	}

	return normalized
}

// ExtractEligibilityCriteria keeps the requirements phrased as obligations.
func ExtractEligibilityCriteria(requirements []string) []string {
	criteria := make([]string, 0)

	for _, req := range requirements {
		for _, re := range eligibilityPatterns {
			if re.MatchString(req) {
				criteria = append(criteria, req)

				break
			}
		}
	}

	return criteria
}

// ExtractRequiredDocuments returns the canonical labels of documents named in text.
func ExtractRequiredDocuments(text string) []string {
	documents := make([]string, 0)
	seen := make(map[string]bool)

	for _, p := range documentPatterns {
		if seen[p.label] || !p.re.MatchString(text) {
			continue
		}

		seen[p.label] = true
		documents = append(documents, p.label)
	}

	return documents
}

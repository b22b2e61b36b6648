package engine

import (
	"regexp"
	"strconv"
	"strings"
)

type ageWord struct {
	word  string
	value int
}

// ageWords lists spelled-out numbers accepted during profile setup, largest
// first so "ninety" wins over "nine" and matching stays deterministic.
var ageWords = []ageWord{
	{"ninety", 90}, {"eighty", 80}, {"seventy", 70}, {"sixty", 60},
	{"fifty", 50}, {"forty", 40}, {"thirty", 30}, {"twenty", 20},
	{"nineteen", 19}, {"eighteen", 18}, {"seventeen", 17}, {"sixteen", 16},
	{"fifteen", 15}, {"fourteen", 14}, {"thirteen", 13}, {"twelve", 12},
	{"eleven", 11}, {"ten", 10}, {"nine", 9}, {"eight", 8}, {"seven", 7},
	{"six", 6}, {"five", 5}, {"four", 4}, {"three", 3}, {"two", 2}, {"one", 1},
}

var digitsRe = regexp.MustCompile(`\b\d+\b`)

// extractAge pulls an age out of free text: the first in-range number, digits
// or spelled out. Returns false when nothing in 1..120 is found.
func extractAge(text string) (int, bool) {
	for _, numStr := range digitsRe.FindAllString(text, -1) {
		age, err := strconv.Atoi(numStr)
		if err == nil && age >= 1 && age <= 120 {
			return age, true
		}
	}
	lower := strings.ToLower(text)
	for _, aw := range ageWords {
		if containsWord(lower, aw.word) {
			return aw.value, true
		}
	}
	return 0, false
}

// extractGender recognizes flexible gender wording. Longer keywords are
// checked before shorter ones so "female" never matches as "male".
func extractGender(text string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))

	switch lower {
	case "m":
		return "male", true
	case "f":
		return "female", true
	case "o":
		return "other", true
	case "n":
		return "prefer_not_to_say", true
	}

	for _, w := range []string{"prefer not", "not say", "private", "none"} {
		if strings.Contains(lower, w) {
			return "prefer_not_to_say", true
		}
	}
	for _, w := range []string{"non-binary", "nonbinary", "nb", "other"} {
		if containsWord(lower, w) {
			return "other", true
		}
	}
	for _, w := range []string{"female", "woman", "girl", "feminine"} {
		if strings.Contains(lower, w) {
			return "female", true
		}
	}
	for _, w := range []string{"male", "man", "boy", "masculine"} {
		if containsWord(lower, w) {
			return "male", true
		}
	}
	return "", false
}

func isSkip(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "skip")
}

// containsWord reports whether word appears in s on word boundaries.
func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isAlnum(s[start-1])
		afterOK := end == len(s) || !isAlnum(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// CountryPolicy detects country mentions in free text so the outbreak tool can
// work in the same turn. The alias table is injectable and independently
// testable.
type CountryPolicy struct {
	aliases []countryAlias // checked in order; first match wins
}

type countryAlias struct {
	alias     string // lowercased mention
	canonical string
}

// DefaultCountryPolicy covers the countries most often mentioned by users,
// with common short forms. The table is ordered so text naming two countries
// always resolves to the same one.
func DefaultCountryPolicy() *CountryPolicy {
	canonical := []string{
		"United States", "United Kingdom", "India", "Canada", "Australia",
		"Germany", "France", "Spain", "Italy", "Brazil", "Mexico", "Nigeria",
		"Kenya", "South Africa", "Ghana", "Egypt", "Ethiopia", "Pakistan",
		"Bangladesh", "Indonesia", "Philippines", "Vietnam", "Thailand",
		"China", "Japan", "South Korea", "Russia", "Turkey", "Saudi Arabia",
		"United Arab Emirates", "Argentina", "Colombia", "Peru", "Chile",
		"Netherlands", "Belgium", "Sweden", "Norway", "Poland", "Ukraine",
		"Greece", "Portugal", "Switzerland", "Austria", "Ireland",
		"New Zealand", "Singapore", "Malaysia", "Sri Lanka", "Nepal",
	}
	aliases := make([]countryAlias, 0, len(canonical)+7)
	for _, c := range canonical {
		aliases = append(aliases, countryAlias{strings.ToLower(c), c})
	}
	aliases = append(aliases,
		countryAlias{"usa", "United States"},
		countryAlias{"america", "United States"},
		countryAlias{"uk", "United Kingdom"},
		countryAlias{"britain", "United Kingdom"},
		countryAlias{"england", "United Kingdom"},
		countryAlias{"uae", "United Arab Emirates"},
		countryAlias{"korea", "South Korea"},
	)
	return &CountryPolicy{aliases: aliases}
}

// Detect returns the canonical country name mentioned in text, or "".
func (p *CountryPolicy) Detect(text string) string {
	lower := strings.ToLower(text)
	for _, a := range p.aliases {
		if containsWord(lower, a.alias) {
			return a.canonical
		}
	}
	return ""
}

package predict

import (
	"regexp"
	"strings"
	"unicode"
)

// Placeholder tokens substituted by NormalizeQuery.
const (
	YearToken  = "{year}"
	MonthToken = "{month}"
	DayToken   = "{day}"
	NumToken   = "{num}"
)

// SignatureWords is the number of important words kept in a signature.
const SignatureWords = 5

var (
	yearPattern  = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	monthPattern = regexp.MustCompile(`\b(?:january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\b`)
	dayPattern   = regexp.MustCompile(`\b(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	numPattern   = regexp.MustCompile(`\d+`)
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		the and for are but not you all any can had her was one our out has his how its may new now
		old see two way who boy did get him let put say she too use what when where which while with
		why this that these those there their them they then than from into onto upon about above after
		again against before being below between both down during each few further here more most
		other over same some such only own very will just should could would does doing have having
		been were your yours ours off under until also tell give show please explain describe`) {
		stopWords[w] = struct{}{}
	}
}

// NormalizeQuery lowercases the query and replaces years, month names,
// weekday names and remaining digit runs with placeholder tokens, so
// "March 2024" and "June 2023" take the same shape.
func NormalizeQuery(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	q = yearPattern.ReplaceAllString(q, YearToken)
	q = monthPattern.ReplaceAllString(q, MonthToken)
	q = dayPattern.ReplaceAllString(q, DayToken)
	q = numPattern.ReplaceAllString(q, NumToken)
	return q
}

// ExtractSignature joins the first SignatureWords important words of a
// normalized query. Important words are longer than two characters and
// not stop words. Punctuation other than placeholder braces separates
// words.
func ExtractSignature(normalized string) string {
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '{' && r != '}'
	})

	important := make([]string, 0, SignatureWords)
	for _, w := range words {
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		important = append(important, w)
		if len(important) == SignatureWords {
			break
		}
	}
	return strings.Join(important, " ")
}

// Signature normalizes a raw query and extracts its signature.
func Signature(query string) string {
	return ExtractSignature(NormalizeQuery(query))
}

// wordOverlap returns |A∩B| / max(|A|,|B|) over the word sets of two
// signatures.
func wordOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	larger := len(setA)
	if len(setB) > larger {
		larger = len(setB)
	}
	if larger == 0 {
		return 0
	}
	shared := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(larger)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

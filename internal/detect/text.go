package detect

import (
	"regexp"
	"sort"
	"strings"
)

var sentenceEnd = regexp.MustCompile(`[.!?]+[\s"')\]]|[.!?]+$`)

// sentences tokenises body text at terminal punctuation, then applies
// an exceptions pass: long newline-delimited blocks without punctuation
// are treated as sentences, short punctuation-free fragments dropped.
func sentences(body string) []string {
	var out []string
	for _, block := range strings.Split(body, "\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		ends := sentenceEnd.FindAllStringIndex(block, -1)
		if len(ends) == 0 {
			// No terminal punctuation: keep long blocks, drop fragments.
			if len(strings.Fields(block)) >= 6 {
				out = append(out, block)
			}
			continue
		}
		start := 0
		for _, e := range ends {
			s := strings.TrimSpace(block[start:e[1]])
			if len(strings.Fields(s)) >= 3 {
				out = append(out, s)
			}
			start = e[1]
		}
		if rest := strings.TrimSpace(block[start:]); len(strings.Fields(rest)) >= 6 {
			out = append(out, rest)
		}
	}
	return out
}

// medianWordsPerSentence returns 0 when no sentences are found.
func medianWordsPerSentence(body string) float64 {
	ss := sentences(body)
	if len(ss) == 0 {
		return 0
	}
	counts := make([]int, len(ss))
	for i, s := range ss {
		counts[i] = len(strings.Fields(s))
	}
	sort.Ints(counts)
	mid := len(counts) / 2
	if len(counts)%2 == 1 {
		return float64(counts[mid])
	}
	return float64(counts[mid-1]+counts[mid]) / 2
}

// listDominated reports whether the body is mostly short
// newline-separated lines (navigation, product grids).
func listDominated(body string) bool {
	lines := strings.Split(body, "\n")
	if len(lines) < 5 {
		return false
	}
	var nonEmpty, words int
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		nonEmpty++
		words += len(strings.Fields(line))
	}
	if nonEmpty < 5 {
		return false
	}
	return float64(words)/float64(nonEmpty) < 10
}

var dataClaimPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d+(\.\d+)?\s?%`),
	regexp.MustCompile(`[$€£]\s?\d`),
	regexp.MustCompile(`(?i)\b(study|research|survey|report|analysis)\s+(found|shows|showed|suggests|indicates|revealed)`),
	regexp.MustCompile(`(?i)\baccording to\b`),
	regexp.MustCompile(`(?i)\b\d+\s+(out of|in)\s+\d+\b`),
}

// hasDataClaims reports whether body makes quantified claims that
// warrant citation checks.
func hasDataClaims(body string) bool {
	for _, p := range dataClaimPatterns {
		if p.MatchString(body) {
			return true
		}
	}
	return false
}

var citationMarkers = []string{
	"source:", "sources:", "[1]", "citation", "references", "bibliography",
	"study", "journal", "doi.org", "pubmed", "et al",
}

// countCitationMarkers is a rough proxy for sourcing density.
func countCitationMarkers(body string) int {
	probe := strings.ToLower(body)
	n := 0
	for _, m := range citationMarkers {
		n += strings.Count(probe, m)
	}
	return n
}

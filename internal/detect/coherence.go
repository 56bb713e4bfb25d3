package detect

import (
	"fmt"
	"regexp"
	"strings"

	"truststack/internal/content"
)

func init() {
	register("readability_grade_level_fit", detectReadability)
	register("headline_body_consistency", detectHeadlineBodyConsistency)
	register("clickbait_language_absence", detectClickbaitAbsence)
	register("superlative_density", detectSuperlativeDensity)
	register("shouting_and_emphasis_restraint", detectShoutingRestraint)
	register("content_depth", detectContentDepth)
	register("language_clarity", detectLanguageClarity)
	register("date_consistency", detectDateConsistency)
}

// detectReadability scores the median sentence length: [12,22] words is
// ideal, [8,30] acceptable, anything else poor. Pages dominated by
// short list lines are skipped entirely.
func detectReadability(in *Input) *content.DetectedAttribute {
	body := in.Content.Body
	if listDominated(body) {
		return nil
	}
	median := medianWordsPerSentence(body)
	if median == 0 {
		return nil
	}
	var score float64
	switch {
	case median >= 12 && median <= 22:
		score = 10
	case median >= 8 && median <= 30:
		score = 7
	default:
		score = 4
	}
	return attr("readability_grade_level_fit", content.DimCoherence, "Readability grade-level fit",
		score, 0.85, fmt.Sprintf("median sentence length %.1f words", median))
}

var headlineStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"for": true, "in": true, "on": true, "to": true, "with": true, "is": true,
	"are": true, "your": true, "our": true, "how": true, "why": true, "what": true,
}

// detectHeadlineBodyConsistency checks that the headline's substantive
// words actually appear in the body.
func detectHeadlineBodyConsistency(in *Input) *content.DetectedAttribute {
	n := in.Content
	headline := n.Title
	for _, seg := range n.Structured {
		if seg.SemanticRole == content.RoleHeadline {
			headline = seg.Text
			break
		}
	}
	if headline == "" || len(n.Body) < 100 {
		return nil
	}

	lowerBody := strings.ToLower(n.Body)
	var substantive, matched int
	for _, word := range strings.Fields(strings.ToLower(headline)) {
		word = strings.Trim(word, ".,!?:;\"'()")
		if len(word) < 3 || headlineStopwords[word] {
			continue
		}
		substantive++
		if strings.Contains(lowerBody, word) {
			matched++
		}
	}
	if substantive == 0 {
		return nil
	}
	ratio := float64(matched) / float64(substantive)
	switch {
	case ratio >= 0.7:
		return attr("headline_body_consistency", content.DimCoherence, "Headline/body consistency",
			9, 0.8, fmt.Sprintf("%d/%d headline terms appear in body", matched, substantive))
	case ratio >= 0.4:
		return attr("headline_body_consistency", content.DimCoherence, "Headline/body consistency",
			6, 0.7, fmt.Sprintf("%d/%d headline terms appear in body", matched, substantive))
	default:
		return attr("headline_body_consistency", content.DimCoherence, "Headline/body consistency",
			3, 0.7, "headline barely reflected in body text")
	}
}

var clickbaitMarkers = []string{
	"you won't believe", "you wont believe", "will shock you", "doctors hate",
	"this one trick", "number 7 will", "what happened next", "mind-blowing",
	"jaw-dropping", "gone wrong",
}

func detectClickbaitAbsence(in *Input) *content.DetectedAttribute {
	probe := strings.ToLower(in.Content.Title + " " + firstN(in.Content.Body, 1000))
	if m, ok := containsAny(probe, clickbaitMarkers); ok {
		return attr("clickbait_language_absence", content.DimCoherence, "Clickbait language",
			2, 0.85, "clickbait phrase: "+m)
	}
	return attr("clickbait_language_absence", content.DimCoherence, "Clickbait language",
		9, 0.7, "no clickbait phrasing detected")
}

var superlativeRe = regexp.MustCompile(`(?i)\b(best ever|greatest|revolutionary|game.chang\w+|unbeatable|world.class|#1|number one|guaranteed)\b`)

func detectSuperlativeDensity(in *Input) *content.DetectedAttribute {
	body := in.Content.Body
	words := len(strings.Fields(body))
	if words < 50 {
		return nil
	}
	hits := len(superlativeRe.FindAllString(body, -1))
	per500 := float64(hits) / float64(words) * 500
	switch {
	case per500 <= 1:
		return attr("superlative_density", content.DimCoherence, "Superlative restraint",
			9, 0.75, fmt.Sprintf("%d superlatives in %d words", hits, words))
	case per500 <= 3:
		return attr("superlative_density", content.DimCoherence, "Superlative restraint",
			6, 0.7, fmt.Sprintf("%d superlatives in %d words", hits, words))
	default:
		return attr("superlative_density", content.DimCoherence, "Superlative restraint",
			3, 0.75, "superlative-heavy copy")
	}
}

func detectShoutingRestraint(in *Input) *content.DetectedAttribute {
	body := in.Content.Body
	if len(body) < 200 {
		return nil
	}
	exclamations := strings.Count(body, "!")
	words := strings.Fields(body)
	var caps int
	for _, w := range words {
		if len(w) >= 4 && w == strings.ToUpper(w) && strings.ContainsAny(w, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			caps++
		}
	}
	capsRatio := float64(caps) / float64(len(words))
	exclPer500 := float64(exclamations) / float64(len(words)) * 500

	if capsRatio > 0.05 || exclPer500 > 5 {
		return attr("shouting_and_emphasis_restraint", content.DimCoherence, "Emphasis restraint",
			3, 0.7, fmt.Sprintf("all-caps ratio %.2f, %d exclamation marks", capsRatio, exclamations))
	}
	return attr("shouting_and_emphasis_restraint", content.DimCoherence, "Emphasis restraint",
		8, 0.7, "measured tone")
}

func detectContentDepth(in *Input) *content.DetectedAttribute {
	words := len(strings.Fields(in.Content.Body))
	var score float64
	switch {
	case words >= 800:
		score = 9
	case words >= 300:
		score = 7
	case words >= 100:
		score = 5
	default:
		score = 3
	}
	return attr("content_depth", content.DimCoherence, "Content depth",
		score, 0.7, fmt.Sprintf("%d words of body text", words))
}

var commonStopwords = []string{" the ", " and ", " of ", " to ", " in ", " that ", " for ", " with "}

// detectLanguageClarity distinguishes real prose from keyword-stuffed
// fragments by stopword presence.
func detectLanguageClarity(in *Input) *content.DetectedAttribute {
	body := " " + strings.ToLower(in.Content.Body) + " "
	words := len(strings.Fields(body))
	if words < 50 {
		return nil
	}
	var stopwordHits int
	for _, sw := range commonStopwords {
		stopwordHits += strings.Count(body, sw)
	}
	ratio := float64(stopwordHits) / float64(words)
	if ratio >= 0.08 {
		return attr("language_clarity", content.DimCoherence, "Language clarity",
			8, 0.7, "natural prose structure")
	}
	return attr("language_clarity", content.DimCoherence, "Language clarity",
		4, 0.6, "fragmented or keyword-dense text")
}

var yearRe = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)

// detectDateConsistency flags bodies that reference years in the
// future.
func detectDateConsistency(in *Input) *content.DetectedAttribute {
	matches := yearRe.FindAllString(in.Content.Body, -1)
	if len(matches) == 0 {
		return nil
	}
	currentYear := in.Now.Year()
	for _, m := range matches {
		var y int
		fmt.Sscanf(m, "%d", &y)
		if y > currentYear+1 {
			return attr("date_consistency", content.DimCoherence, "Date consistency",
				3, 0.7, "body references future year "+m)
		}
	}
	return attr("date_consistency", content.DimCoherence, "Date consistency",
		8, 0.6, "referenced years are plausible")
}

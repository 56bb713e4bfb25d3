package scoring

import "strings"

// Stopword profiles for the languages that show up in brand content.
// Counting profile hits over the first words of the body is crude but
// cheap and needs no model download.
var stopwordProfiles = map[string][]string{
	"en": {"the", "and", "of", "to", "in", "is", "you", "that", "it", "for", "with", "are"},
	"es": {"el", "la", "de", "que", "los", "se", "del", "las", "por", "una", "con", "para"},
	"fr": {"le", "la", "les", "des", "une", "est", "dans", "pour", "que", "sur", "avec", "pas"},
	"de": {"der", "die", "und", "den", "von", "das", "mit", "sich", "ist", "auf", "ein", "nicht"},
	"pt": {"de", "que", "do", "da", "em", "um", "para", "com", "uma", "os", "no", "se"},
	"it": {"di", "che", "il", "la", "per", "un", "una", "sono", "del", "non", "con", "le"},
}

const languageSampleWords = 400

// DetectLanguage guesses the language of a text by stopword profile.
// Returns "en" when nothing matches; the detectors only use the code
// as metadata, a wrong guess costs nothing.
func DetectLanguage(body string) string {
	words := strings.Fields(strings.ToLower(body))
	if len(words) > languageSampleWords {
		words = words[:languageSampleWords]
	}
	if len(words) < 5 {
		return "en"
	}

	seen := make(map[string]int, len(words))
	for _, w := range words {
		seen[strings.Trim(w, ".,!?;:\"'()")]++
	}

	best, bestHits := "en", 0
	for lang, profile := range stopwordProfiles {
		hits := 0
		for _, sw := range profile {
			hits += seen[sw]
		}
		if hits > bestHits {
			best, bestHits = lang, hits
		}
	}

	// Require a minimal signal before trusting the guess.
	if bestHits*20 < len(words) {
		return "en"
	}
	return best
}

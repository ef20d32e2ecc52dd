package analyze

import (
	"regexp"
	"strings"

	"github.com/TobiSchelling/PaperDigest/internal/database"
)

// Vocabulary is the fixed Swift/iOS term list behind the keyword bonus.
var Vocabulary = []string{
	"swift", "swiftui", "swiftdata", "objective-c", "ios", "ipados", "iphone",
	"ipad", "macos", "watchos", "tvos", "visionos", "vision pro", "xcode",
	"uikit", "appkit", "core data", "core ml", "coreml", "create ml", "arkit",
	"realitykit", "metal", "app store", "testflight", "apple",
}

const (
	maxBonusHits    = 5
	bonusPerHit     = 2
	modelWeight     = 7
	keywordWeight   = 3
	totalWeight     = modelWeight + keywordWeight
	maxRelevance    = 10
	maxAbstractSize = 4000
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// normalize lowercases s and collapses punctuation and whitespace runs into
// single spaces so terms match regardless of hyphens or case.
func normalize(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(s), " "))
}

type term struct {
	keyword string
	re      *regexp.Regexp
}

var vocabTerms = compileTerms(Vocabulary)

func compileTerms(words []string) []term {
	terms := make([]term, 0, len(words))
	for _, w := range words {
		if re := termPattern(w); re != nil {
			terms = append(terms, term{keyword: w, re: re})
		}
	}
	return terms
}

func termPattern(word string) *regexp.Regexp {
	n := normalize(word)
	if n == "" {
		return nil
	}
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(n) + `\b`)
}

// CountVocabulary returns how often each vocabulary term occurs in text.
// Terms that do not occur are absent from the map.
func CountVocabulary(text string) map[string]int {
	norm := normalize(text)
	counts := make(map[string]int)
	for _, t := range vocabTerms {
		if n := len(t.re.FindAllStringIndex(norm, -1)); n > 0 {
			counts[t.keyword] = n
		}
	}
	return counts
}

// KeywordBonus converts vocabulary occurrences in text into a 0-10 bonus.
// It depends on the text alone.
func KeywordBonus(text string) int {
	var hits int
	for _, n := range CountVocabulary(text) {
		hits += n
	}
	return min(hits, maxBonusHits) * bonusPerHit
}

// Blend combines the model score and keyword bonus into the final score:
// (7*model + 3*bonus + 5) / 10, clamped to 0-10. It is non-decreasing in
// both arguments.
func Blend(model, bonus int) int {
	model = clamp(model)
	bonus = clamp(bonus)
	return clamp((modelWeight*model + keywordWeight*bonus + totalWeight/2) / totalWeight)
}

func clamp(n int) int {
	return max(0, min(n, maxRelevance))
}

// ExtractKeywords merges vocabulary hits with keywords proposed by the model.
// A proposed keyword is counted in text; one that never occurs counts once.
// The result is ordered by count descending, then keyword ascending.
func ExtractKeywords(text string, proposed []string) []database.KeywordCount {
	freq := CountVocabulary(text)
	norm := normalize(text)

	seen := make(map[string]bool, len(freq))
	for k := range freq {
		seen[normalize(k)] = true
	}

	for _, kw := range proposed {
		key := strings.ToLower(strings.TrimSpace(kw))
		nkey := normalize(key)
		if nkey == "" || seen[nkey] {
			continue
		}
		seen[nkey] = true
		n := len(termPattern(key).FindAllStringIndex(norm, -1))
		freq[key] = max(n, 1)
	}
	return database.SortKeywords(freq)
}

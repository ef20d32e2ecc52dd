package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TobiSchelling/PaperDigest/internal/database"
)

func TestKeywordBonus(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"A study of graph databases", 0},
		{"Swift concurrency", 2},
		{"Objective-C and Swift interop on iOS", 6},
		{"SwiftUI apps on iPhone and iPad running iOS with SwiftUI previews", 10},
		{"swift swift swift swift swift swift swift", 10},
		{"Swiftly moving birds", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KeywordBonus(tt.text), tt.text)
	}
}

func TestKeywordBonusIsPure(t *testing.T) {
	text := "Core ML models on visionOS and the Vision Pro"
	first := KeywordBonus(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, KeywordBonus(text))
	}
}

func TestCountVocabularyIgnoresCaseAndPunctuation(t *testing.T) {
	got := CountVocabulary("CORE-DATA vs core data; Xcode/XCODE")
	assert.Equal(t, map[string]int{"core data": 2, "xcode": 2}, got)
}

func TestBlendBoundsAndMonotonic(t *testing.T) {
	assert.Equal(t, 0, Blend(0, 0))
	assert.Equal(t, 10, Blend(10, 10))
	assert.Equal(t, 10, Blend(15, 12))
	assert.Equal(t, 0, Blend(-3, -1))

	for m := 0; m <= 10; m++ {
		for b := 0; b <= 10; b++ {
			s := Blend(m, b)
			assert.True(t, s >= 0 && s <= 10)
			if m < 10 {
				assert.LessOrEqual(t, s, Blend(m+1, b), "model %d bonus %d", m, b)
			}
			if b < 10 {
				assert.LessOrEqual(t, s, Blend(m, b+1), "model %d bonus %d", m, b)
			}
		}
	}
}

func TestExtractKeywords(t *testing.T) {
	text := "SwiftUI layout on iOS\nWe profile SwiftUI apps on iPhone and iPad."
	got := ExtractKeywords(text, []string{"SwiftUI", "layout engines", "Performance", " ", "iphone"})

	assert.Equal(t, database.KeywordCount{Keyword: "swiftui", Count: 2}, got[0])

	keys := make([]string, len(got))
	for i, kc := range got {
		keys[i] = kc.Keyword
	}
	assert.Equal(t, []string{"swiftui", "ios", "ipad", "iphone", "layout engines", "performance"}, keys)
}

func TestExtractKeywordsCountsProposedInText(t *testing.T) {
	got := ExtractKeywords("Energy use of Energy-aware schedulers", []string{"energy"})
	assert.Equal(t, []database.KeywordCount{{Keyword: "energy", Count: 2}}, got)
}

func TestMatchCategory(t *testing.T) {
	tests := map[string]string{
		"Swift Language":          database.CategorySwiftLanguage,
		"swift-language":          database.CategorySwiftLanguage,
		"iOS development":         database.CategoryIOSDevelopment,
		"UI_FRAMEWORKS":           database.CategoryUIFrameworks,
		"Performance and Tooling": database.CategoryGeneral,
		"performance & tooling":   database.CategoryPerformanceTooling,
		"On-device AI/ML":         database.CategoryOnDeviceML,
		"machine learning":        database.CategoryOnDeviceML,
		"Gardening":               database.CategoryGeneral,
		"":                        database.CategoryGeneral,
	}
	for answer, want := range tests {
		assert.Equal(t, want, MatchCategory(answer), answer)
	}
}

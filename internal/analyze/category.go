package analyze

import (
	"strings"

	"github.com/TobiSchelling/PaperDigest/internal/database"
)

// categoryAliases maps squashed labels and slugs to categories.
var categoryAliases = map[string]string{
	"swift":           database.CategorySwiftLanguage,
	"language":        database.CategorySwiftLanguage,
	"ios":             database.CategoryIOSDevelopment,
	"mobile":          database.CategoryIOSDevelopment,
	"ui":              database.CategoryUIFrameworks,
	"swiftui":         database.CategoryUIFrameworks,
	"uikit":           database.CategoryUIFrameworks,
	"performance":     database.CategoryPerformanceTooling,
	"tooling":         database.CategoryPerformanceTooling,
	"tools":           database.CategoryPerformanceTooling,
	"ondeviceml":      database.CategoryOnDeviceML,
	"ondeviceai":      database.CategoryOnDeviceML,
	"aiml":            database.CategoryOnDeviceML,
	"ml":              database.CategoryOnDeviceML,
	"machinelearning": database.CategoryOnDeviceML,
	"other":           database.CategoryGeneral,
}

func squash(s string) string {
	return strings.ReplaceAll(normalize(s), " ", "")
}

// MatchCategory maps a model's answer onto one of database.Categories,
// ignoring case, spacing and punctuation. Unknown answers map to General.
func MatchCategory(answer string) string {
	key := squash(answer)
	if key == "" {
		return database.CategoryGeneral
	}
	for _, c := range database.Categories {
		if squash(c) == key {
			return c
		}
	}
	if c, ok := categoryAliases[key]; ok {
		return c
	}
	return database.CategoryGeneral
}

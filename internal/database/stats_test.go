package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStatsEmptyRange(t *testing.T) {
	db := openTestDB(t)

	agg, err := db.GetStats(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "2026-01-01", agg.Since)
	assert.Zero(t, agg.Days)
	assert.Zero(t, agg.Seen)
	assert.NotNil(t, agg.Categories)
	assert.NotNil(t, agg.Keywords)
	assert.Empty(t, agg.TopKeywords(5))
}

func TestGetStatsAggregatesRange(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.RecordDailyStats(ctx, DailyStats{
		Date: "2026-01-01", Seen: 100, Analyzed: 100, Passed: 100, Delivered: 100,
		Keywords: map[string]int{"ignored": 50},
	}))
	require.NoError(t, db.RecordDailyStats(ctx, DailyStats{
		Date: "2026-02-05", Seen: 10, Analyzed: 6, Passed: 3, Delivered: 2,
		Categories: map[string]int{CategoryUIFrameworks: 2},
		Keywords:   map[string]int{"swiftui": 4, "xcode": 1},
	}))
	require.NoError(t, db.RecordDailyStats(ctx, DailyStats{
		Date: "2026-02-06", Seen: 5, Analyzed: 5, Passed: 2, Delivered: 1,
		Categories: map[string]int{CategoryUIFrameworks: 1, CategorySwiftLanguage: 1},
		Keywords:   map[string]int{"swiftui": 1, "concurrency": 3},
	}))

	agg, err := db.GetStats(ctx, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 2, agg.Days)
	assert.Equal(t, 15, agg.Seen)
	assert.Equal(t, 11, agg.Analyzed)
	assert.Equal(t, 5, agg.Passed)
	assert.Equal(t, 3, agg.Delivered)
	assert.Equal(t, 3, agg.Categories[CategoryUIFrameworks])
	assert.Equal(t, 1, agg.Categories[CategorySwiftLanguage])
	assert.NotContains(t, agg.Keywords, "ignored")
	assert.Equal(t, []KeywordCount{
		{Keyword: "swiftui", Count: 5},
		{Keyword: "concurrency", Count: 3},
	}, agg.TopKeywords(2))
}

func TestRecordDailyStatsUpserts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.RecordDailyStats(ctx, DailyStats{Date: "2026-02-06", Seen: 3}))
	require.NoError(t, db.RecordDailyStats(ctx, DailyStats{Date: "2026-02-06", Seen: 7, Delivered: 1}))

	s, err := db.GetDailyStats(ctx, "2026-02-06")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 7, s.Seen)
	assert.Equal(t, 1, s.Delivered)
	assert.NotNil(t, s.Categories)

	missing, err := db.GetDailyStats(ctx, "2020-01-01")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSortKeywordsTieBreak(t *testing.T) {
	got := SortKeywords(map[string]int{"b": 2, "a": 2, "c": 5})
	assert.Equal(t, []KeywordCount{{"c", 5}, {"a", 2}, {"b", 2}}, got)
}

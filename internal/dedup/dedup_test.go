package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendharma/archive-migrate/internal/conf"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		filename string
		number   int
		title    string
	}{
		{"01 morning talk.mp3", 1, "morning talk"},
		{"02_evening-session.mp3", 2, "evening session"},
		{"12 teaching [bo].mp3", 12, "teaching"},
		{"untitled.mp3", 0, "untitled"},
		{"03.mp3", 3, ""},
	}
	for _, tc := range tests {
		number, title := NormalizeTitle(tc.filename)
		assert.Equal(t, tc.number, number, tc.filename)
		assert.Equal(t, tc.title, title, tc.filename)
	}
}

func TestResolveSingleCollection(t *testing.T) {
	tracks := []Track{
		{Collection: "audio1", Number: 1, Title: "one"},
		{Collection: "audio1", Number: 2, Title: "two"},
	}
	result := Resolve("E1", tracks, conf.LegacyRetainUnique)

	assert.Equal(t, "audio1", result.Canonical)
	for _, d := range result.Dispositions {
		assert.Equal(t, DispositionCanonical, d)
	}
	assert.Empty(t, result.Summary.EventCode, "single collection produces no summary")
}

func TestResolveLargerCollectionWins(t *testing.T) {
	// 5 canonical tracks against a 3-track legacy folder with 2 unmatched.
	tracks := []Track{
		{Collection: "audio2", Number: 1, Title: "opening"},
		{Collection: "audio2", Number: 2, Title: "refuge"},
		{Collection: "audio2", Number: 3, Title: "bodhicitta"},
		{Collection: "audio2", Number: 4, Title: "questions"},
		{Collection: "audio2", Number: 5, Title: "dedication"},
		{Collection: "legacy", Number: 1, Title: "opening"},
		{Collection: "legacy", Number: 6, Title: "extra talk"},
		{Collection: "legacy", Number: 7, Title: "another extra"},
	}
	result := Resolve("E1", tracks, conf.LegacyRetainUnique)

	require.Equal(t, "audio2", result.Canonical)
	assert.Equal(t, DispositionDuplicate, result.Dispositions[5])
	assert.Equal(t, DispositionLegacy, result.Dispositions[6])
	assert.Equal(t, DispositionLegacy, result.Dispositions[7])

	assert.Equal(t, 5, result.Summary.CanonicalTracks)
	assert.Equal(t, 2, result.Summary.LegacyRetained)
	assert.Equal(t, 1, result.Summary.DuplicatesIgnored)
	assert.Equal(t, "legacy", result.Summary.LegacyCollection)
}

func TestResolveEqualCountsConventionWins(t *testing.T) {
	// Equal counts: the numeric-prefixed, titled collection is canonical.
	tracks := []Track{
		{Collection: "zz-new", Number: 1, Title: "talk one"},
		{Collection: "zz-new", Number: 2, Title: "talk two"},
		{Collection: "aa-old", Number: 0, Title: "talk one"},
		{Collection: "aa-old", Number: 0, Title: "talk two"},
	}
	result := Resolve("E1", tracks, conf.LegacyRetainUnique)
	assert.Equal(t, "zz-new", result.Canonical,
		"convention match beats lexicographic order")
}

func TestResolveEqualCountsLexicographicTieBreak(t *testing.T) {
	// Neither collection matches the convention: smaller key wins.
	unconventional := []Track{
		{Collection: "b", Number: 0, Title: "x"},
		{Collection: "a", Number: 0, Title: "y"},
	}
	result := Resolve("E1", unconventional, conf.LegacyRetainUnique)
	assert.Equal(t, "a", result.Canonical)

	// Both match the convention: still the smaller key, deterministically.
	conventional := []Track{
		{Collection: "b", Number: 1, Title: "x"},
		{Collection: "a", Number: 1, Title: "y"},
	}
	result = Resolve("E1", conventional, conf.LegacyRetainUnique)
	assert.Equal(t, "a", result.Canonical)
}

func TestResolveIsDeterministic(t *testing.T) {
	tracks := []Track{
		{Collection: "one", Number: 1, Title: "a"},
		{Collection: "two", Number: 1, Title: "a"},
		{Collection: "two", Number: 2, Title: "b"},
	}
	first := Resolve("E1", tracks, conf.LegacyRetainUnique)
	for i := 0; i < 10; i++ {
		again := Resolve("E1", tracks, conf.LegacyRetainUnique)
		assert.Equal(t, first.Canonical, again.Canonical)
		assert.Equal(t, first.Dispositions, again.Dispositions)
	}
}

func TestResolveIgnoreAllStrategy(t *testing.T) {
	tracks := []Track{
		{Collection: "audio2", Number: 1, Title: "one"},
		{Collection: "audio2", Number: 2, Title: "two"},
		{Collection: "legacy", Number: 9, Title: "unique"},
	}
	result := Resolve("E1", tracks, conf.LegacyIgnoreAll)

	assert.Equal(t, DispositionDuplicate, result.Dispositions[2],
		"ignore_all drops even unmatched legacy tracks")
	assert.Equal(t, 0, result.Summary.LegacyRetained)
	assert.Equal(t, 1, result.Summary.DuplicatesIgnored)
}
